package identify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/domain"
)

func TestKeywords(t *testing.T) {
	tests := []struct {
		name string
		want []string
	}{
		{"Machine Learning (ML)", []string{"machine", "learning", "ml"}},
		{"Intro to Databases", []string{"to", "databases"}},
		{"計算機概論", []string{"計算機概論"}},
		{"作業系統 (OS) 導論", []string{"作業系統", "os"}},
		{"資料結構（進階）", []string{"資料結構"}},
		{"C Programming Lab", []string{"programming"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Keywords(tt.name))
		})
	}
}

func TestNormalizeFilename(t *testing.T) {
	assert.Equal(t, "machine learning lecture3", NormalizeFilename("Machine_Learning_lecture3.m4a"))
	assert.Equal(t, "os week 2", NormalizeFilename("/tmp/OS -- week_2.M4A"))
	assert.Equal(t, "新錄音 3", NormalizeFilename("新錄音 3.m4a"))
}

func TestFilenameStrategy_Confidence(t *testing.T) {
	courses := []domain.Course{
		{ID: "ml", Name: "Machine Learning (ML)"},
		{ID: "db", Name: "Databases"},
	}

	tests := []struct {
		file       string
		courseID   string
		confidence int
	}{
		{"Machine_Learning_lecture3.m4a", "ml", 80},
		{"ML_lecture3.m4a", "ml", 65},
		{"machine learning ml recap.m4a", "ml", 85},
		{"databases-week1.m4a", "db", 65},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			res := FilenameStrategy{}.Attempt(context.Background(), Candidate{FileName: tt.file}, courses)
			require.NotNil(t, res.CourseID)
			assert.Equal(t, tt.courseID, *res.CourseID)
			assert.Equal(t, tt.confidence, res.Confidence)
			assert.Equal(t, domain.MethodFilename, res.Method)
		})
	}
}

func TestFilenameStrategy_Reason(t *testing.T) {
	courses := []domain.Course{{ID: "ds", Name: "Distributed Systems"}}
	res := FilenameStrategy{}.Attempt(context.Background(), Candidate{FileName: "distributed_systems_w2.m4a"}, courses)

	require.Len(t, res.SuggestedCourses, 1)
	assert.Equal(t, "檔案名稱包含關鍵字：distributed, systems", res.SuggestedCourses[0].Reason)
	assert.Equal(t, "Distributed Systems", res.SuggestedCourses[0].CourseName)
}

func TestFilenameStrategy_NoMatch(t *testing.T) {
	res := FilenameStrategy{}.Attempt(context.Background(), Candidate{FileName: "New Recording 12.m4a"}, sampleCourses)

	assert.Nil(t, res.CourseID)
	assert.Equal(t, 0, res.Confidence)
	assert.Empty(t, res.SuggestedCourses)
}

func TestFilenameStrategy_RanksByHits(t *testing.T) {
	courses := []domain.Course{
		{ID: "one", Name: "Systems"},
		{ID: "two", Name: "Distributed Systems"},
	}
	res := FilenameStrategy{}.Attempt(context.Background(), Candidate{FileName: "distributed systems.m4a"}, courses)

	require.NotNil(t, res.CourseID)
	assert.Equal(t, "two", *res.CourseID)
	require.Len(t, res.SuggestedCourses, 2)
	assert.Equal(t, 65, res.SuggestedCourses[1].Confidence)
}
