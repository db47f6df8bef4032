package metadata

import (
	"encoding/binary"
	"os"
	"time"
)

// box frames payload as an ISO base media box with a 32-bit size.
func box(typ string, payload ...[]byte) []byte {
	size := 8
	for _, p := range payload {
		size += len(p)
	}
	out := make([]byte, 8, size)
	binary.BigEndian.PutUint32(out[0:4], uint32(size))
	copy(out[4:8], typ)
	for _, p := range payload {
		out = append(out, p...)
	}
	return out
}

// largeBox frames payload with the 64-bit size form (size field 1).
func largeBox(typ string, payload []byte) []byte {
	out := make([]byte, 16, 16+len(payload))
	binary.BigEndian.PutUint32(out[0:4], 1)
	copy(out[4:8], typ)
	binary.BigEndian.PutUint64(out[8:16], uint64(16+len(payload)))
	return append(out, payload...)
}

func ftypBox(brand string) []byte {
	payload := make([]byte, 0, 12)
	payload = append(payload, brand...)
	payload = append(payload, 0, 0, 0, 0)
	payload = append(payload, brand...)
	return box("ftyp", payload)
}

func macSeconds(t time.Time) uint64 {
	return uint64(t.Sub(macEpoch) / time.Second)
}

// mvhdV0 is a version 0 movie header: 32-bit times, 100 byte body.
func mvhdV0(created time.Time, timescale, duration uint32) []byte {
	body := make([]byte, 100)
	binary.BigEndian.PutUint32(body[4:8], uint32(macSeconds(created)))
	binary.BigEndian.PutUint32(body[8:12], uint32(macSeconds(created)))
	binary.BigEndian.PutUint32(body[12:16], timescale)
	binary.BigEndian.PutUint32(body[16:20], duration)
	binary.BigEndian.PutUint32(body[20:24], 0x00010000) // rate 1.0
	return box("mvhd", body)
}

// mvhdV1 is a version 1 movie header: 64-bit times and duration.
func mvhdV1(created time.Time, timescale uint32, duration uint64) []byte {
	body := make([]byte, 112)
	body[0] = 1
	binary.BigEndian.PutUint64(body[4:12], macSeconds(created))
	binary.BigEndian.PutUint64(body[12:20], macSeconds(created))
	binary.BigEndian.PutUint32(body[20:24], timescale)
	binary.BigEndian.PutUint64(body[24:32], duration)
	return box("mvhd", body)
}

// createTestM4A writes a minimal Voice Memos style file: ftyp then moov/mvhd
// with a millisecond timescale.
func createTestM4A(path string, created time.Time, durationSeconds uint32) error {
	data := append(ftypBox("M4A "), box("moov", mvhdV0(created, 1000, durationSeconds*1000))...)
	return os.WriteFile(path, data, 0644)
}
