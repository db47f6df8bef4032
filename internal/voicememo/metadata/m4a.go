package metadata

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"time"
)

// ErrInvalidFormat indicates the file is not a valid M4A/MP4 file.
var ErrInvalidFormat = errors.New("invalid M4A format")

// macEpoch is the zero point for ISO base media timestamps.
var macEpoch = time.Date(1904, 1, 1, 0, 0, 0, 0, time.UTC)

// M4AInfo is what the container header alone can tell us about a recording.
type M4AInfo struct {
	CreationTime time.Time
	Duration     time.Duration
}

// ExtractM4A reads the movie header of an M4A file without external tools.
func ExtractM4A(path string) (*M4AInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return parseM4A(f)
}

func parseM4A(r io.ReadSeeker) (*M4AInfo, error) {
	info := &M4AInfo{}
	var foundFtyp, foundMoov bool

	for {
		payload, boxType, err := readBoxHeader(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch boxType {
		case "ftyp":
			if err := validateFtyp(r, payload); err != nil {
				return nil, err
			}
			foundFtyp = true
		case "moov":
			if err := parseMoov(r, payload, info); err != nil {
				return nil, err
			}
			foundMoov = true
		default:
			if payload >= 0 {
				if _, err := r.Seek(payload, io.SeekCurrent); err != nil {
					return nil, err
				}
			}
		}

		// A size-0 box runs to the end of the file
		if payload < 0 {
			break
		}
	}

	if !foundFtyp || !foundMoov {
		return nil, ErrInvalidFormat
	}
	return info, nil
}

// readBoxHeader returns the payload length of the next box and its type.
// A payload of -1 means the box runs to the end of the file.
func readBoxHeader(r io.Reader) (int64, string, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return 0, "", ErrInvalidFormat
		}
		return 0, "", err
	}

	size := int64(binary.BigEndian.Uint32(header[0:4]))
	boxType := string(header[4:8])

	switch size {
	case 0:
		return -1, boxType, nil
	case 1:
		var large [8]byte
		if _, err := io.ReadFull(r, large[:]); err != nil {
			return 0, "", ErrInvalidFormat
		}
		size = int64(binary.BigEndian.Uint64(large[:]))
		if size < 16 {
			return 0, "", ErrInvalidFormat
		}
		return size - 16, boxType, nil
	}

	if size < 8 {
		return 0, "", ErrInvalidFormat
	}
	return size - 8, boxType, nil
}

var validBrands = map[string]bool{
	"M4A ": true,
	"M4B ": true,
	"mp41": true,
	"mp42": true,
	"isom": true,
	"iso2": true,
}

func validateFtyp(r io.ReadSeeker, remaining int64) error {
	if remaining < 4 {
		return ErrInvalidFormat
	}
	brand := make([]byte, 4)
	if _, err := io.ReadFull(r, brand); err != nil {
		return ErrInvalidFormat
	}
	if !validBrands[string(brand)] {
		return ErrInvalidFormat
	}

	if remaining > 4 {
		if _, err := r.Seek(remaining-4, io.SeekCurrent); err != nil {
			return err
		}
	}
	return nil
}

func parseMoov(r io.ReadSeeker, remaining int64, info *M4AInfo) error {
	start, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	end := start + remaining
	if remaining < 0 {
		end = -1
	}

	for {
		pos, err := r.Seek(0, io.SeekCurrent)
		if err != nil {
			return err
		}
		if end >= 0 && pos >= end {
			return nil
		}

		payload, boxType, err := readBoxHeader(r)
		if err == io.EOF && end < 0 {
			return nil
		}
		if err != nil {
			return err
		}
		if payload < 0 {
			return ErrInvalidFormat
		}

		if boxType == "mvhd" {
			if err := parseMvhd(r, payload, info); err != nil {
				return err
			}
			continue
		}
		if _, err := r.Seek(payload, io.SeekCurrent); err != nil {
			return err
		}
	}
}

// parseMvhd handles both the 32-bit (version 0) and 64-bit (version 1) layouts.
func parseMvhd(r io.ReadSeeker, remaining int64, info *M4AInfo) error {
	var versionFlags [4]byte
	if _, err := io.ReadFull(r, versionFlags[:]); err != nil {
		return ErrInvalidFormat
	}

	var creation, duration uint64
	var timescale uint32
	var read int64 = 4

	if versionFlags[0] == 1 {
		var buf [28]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return ErrInvalidFormat
		}
		creation = binary.BigEndian.Uint64(buf[0:8])
		timescale = binary.BigEndian.Uint32(buf[16:20])
		duration = binary.BigEndian.Uint64(buf[20:28])
		read += 28
	} else {
		var buf [16]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return ErrInvalidFormat
		}
		creation = uint64(binary.BigEndian.Uint32(buf[0:4]))
		timescale = binary.BigEndian.Uint32(buf[8:12])
		duration = uint64(binary.BigEndian.Uint32(buf[12:16]))
		read += 16
	}

	if creation > 0 {
		info.CreationTime = macEpoch.Add(time.Duration(creation) * time.Second)
	}
	if timescale > 0 {
		info.Duration = time.Duration(duration) * time.Second / time.Duration(timescale)
	}

	if remaining > read {
		if _, err := r.Seek(remaining-read, io.SeekCurrent); err != nil {
			return err
		}
	}
	return nil
}
