package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/domain"
	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/store"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewCoursesCmd creates the courses command group
func NewCoursesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "courses",
		Short: "Manage the courses recordings are filed under",
	}

	cmd.AddCommand(newCoursesListCmd())
	cmd.AddCommand(newCoursesImportCmd())

	return cmd
}

func newCoursesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the courses of DEFAULT_USER_ID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, s, err := openCourseStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			courses, err := s.ListCourses(cmd.Context(), cfg.UserID)
			if err != nil {
				return fmt.Errorf("list courses: %w", err)
			}
			if len(courses) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No courses")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tINSTRUCTOR\tSCHEDULE")
			for _, c := range courses {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Instructor, formatSchedule(c.Schedule))
			}
			return w.Flush()
		},
	}
}

func newCoursesImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Create or update courses from a YAML or JSON file",
		Long: `Create or update courses from a YAML or JSON file.

The file holds a list of courses, either at the top level or under "courses":

  courses:
    - id: cs-262
      name: Distributed Systems
      instructor: Prof. Lin
      schedule:
        - dayOfWeek: monday
          startTime: "14:00"
          endTime: "15:30"

dayOfWeek is 0-6 (Sunday is 0) or a weekday name. Existing courses with the
same id are replaced.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read course file: %w", err)
			}
			courses, err := parseCourseFile(data)
			if err != nil {
				return err
			}

			cfg, s, err := openCourseStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			for _, c := range courses {
				if err := s.UpsertCourse(cmd.Context(), cfg.UserID, c); err != nil {
					return fmt.Errorf("save course %s: %w", c.ID, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d course(s) for %s\n", len(courses), cfg.UserID)
			return nil
		},
	}
}

func openCourseStore(cmd *cobra.Command) (*voicememo.Config, store.Store, error) {
	cfg, err := voicememo.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.UserID == "" {
		return nil, nil, voicememo.ErrUserIDRequired
	}

	s, err := store.Open(cmd.Context(), store.Options{
		Backend:     cfg.StoreBackend,
		DatabaseURL: cfg.DatabaseURL,
		DataDir:     cfg.DataDir,
		Migrate:     cfg.Migrate,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return cfg, s, nil
}

type courseEntry struct {
	ID         string      `yaml:"id"`
	Name       string      `yaml:"name"`
	Instructor string      `yaml:"instructor"`
	Schedule   []slotEntry `yaml:"schedule"`
}

type slotEntry struct {
	DayOfWeek weekday `yaml:"dayOfWeek"`
	StartTime string  `yaml:"startTime"`
	EndTime   string  `yaml:"endTime"`
}

// weekday accepts 0-6 or an English day name.
type weekday int

func (d *weekday) UnmarshalYAML(value *yaml.Node) error {
	if n, err := strconv.Atoi(value.Value); err == nil {
		if n < 0 || n > 6 {
			return fmt.Errorf("line %d: dayOfWeek %d out of range 0-6", value.Line, n)
		}
		*d = weekday(n)
		return nil
	}

	name := strings.ToLower(strings.TrimSpace(value.Value))
	for i := time.Sunday; i <= time.Saturday; i++ {
		full := strings.ToLower(i.String())
		if name == full || (len(name) >= 3 && strings.HasPrefix(full, name)) {
			*d = weekday(i)
			return nil
		}
	}
	return fmt.Errorf("line %d: unknown dayOfWeek %q", value.Line, value.Value)
}

// parseCourseFile decodes a course list. JSON is valid YAML, so one decoder
// handles both.
func parseCourseFile(data []byte) ([]domain.Course, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse course file: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, errors.New("course file is empty")
	}

	doc := root.Content[0]
	var entries []courseEntry
	switch doc.Kind {
	case yaml.SequenceNode:
		if err := doc.Decode(&entries); err != nil {
			return nil, fmt.Errorf("parse course file: %w", err)
		}
	case yaml.MappingNode:
		var wrapped struct {
			Courses []courseEntry `yaml:"courses"`
		}
		if err := doc.Decode(&wrapped); err != nil {
			return nil, fmt.Errorf("parse course file: %w", err)
		}
		entries = wrapped.Courses
	default:
		return nil, errors.New("course file must hold a list of courses")
	}

	courses := make([]domain.Course, 0, len(entries))
	seen := make(map[string]bool)
	for i, e := range entries {
		if e.ID == "" || e.Name == "" {
			return nil, fmt.Errorf("course %d: id and name are required", i+1)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("course %s: duplicate id", e.ID)
		}
		seen[e.ID] = true

		c := domain.Course{ID: e.ID, Name: e.Name, Instructor: e.Instructor}
		for _, s := range e.Schedule {
			start, err := time.Parse("15:04", s.StartTime)
			if err != nil {
				return nil, fmt.Errorf("course %s: invalid startTime %q", e.ID, s.StartTime)
			}
			end, err := time.Parse("15:04", s.EndTime)
			if err != nil {
				return nil, fmt.Errorf("course %s: invalid endTime %q", e.ID, s.EndTime)
			}
			if !end.After(start) {
				return nil, fmt.Errorf("course %s: endTime %s is not after startTime %s", e.ID, s.EndTime, s.StartTime)
			}
			c.Schedule = append(c.Schedule, domain.ScheduleSlot{
				DayOfWeek: int(s.DayOfWeek),
				StartTime: start.Format("15:04"),
				EndTime:   end.Format("15:04"),
			})
		}
		courses = append(courses, c)
	}
	return courses, nil
}

func formatSchedule(slots []domain.ScheduleSlot) string {
	if len(slots) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(slots))
	for _, s := range slots {
		day := time.Weekday(s.DayOfWeek).String()[:3]
		parts = append(parts, fmt.Sprintf("%s %s-%s", day, s.StartTime, s.EndTime))
	}
	return strings.Join(parts, ", ")
}
