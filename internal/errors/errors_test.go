package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	reported []*EnhancedError
}

func (r *recordingReporter) ReportError(ee *EnhancedError) {
	r.reported = append(r.reported, ee)
	ee.MarkReported()
}

func (r *recordingReporter) IsEnabled() bool { return true }

func TestFastPathNoTelemetry(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.False(t, ee.IsReported())
}

func TestBuilderContext(t *testing.T) {
	t.Parallel()

	ee := New(fmt.Errorf("cannot read")).
		Component("softlabel").
		Category(CategoryFileIO).
		FileContext("/data/soft/XC1234.npy").
		Context("rows", 46).
		Build()

	ctx := ee.GetContext()
	assert.Equal(t, "softlabel", ee.GetComponent())
	assert.Equal(t, "XC1234.npy", ctx["file_name"])
	assert.Equal(t, ".npy", ctx["file_extension"])
	assert.Equal(t, 46, ctx["rows"])
	assert.True(t, IsCategory(ee, CategoryFileIO))
}

func TestNotImplemented(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("resolve: %w", NotImplemented("optimizer", "lamb"))

	require.Error(t, err)
	assert.True(t, IsNotImplemented(err))
	assert.Contains(t, err.Error(), `optimizer "lamb" is not implemented`)
}

func TestPriorityFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{PriorityHigh, PriorityHigh},
		{"urgent", PriorityMedium},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			ee := New(NewStd("x")).Priority(tt.in).Build()
			assert.Equal(t, tt.want, ee.Priority)
		})
	}
}

func TestReporterReceivesErrors(t *testing.T) {
	reporter := &recordingReporter{}
	SetTelemetryReporter(reporter)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	ee := New(NewStd("boom")).Category(CategoryTraining).Build()

	require.Len(t, reporter.reported, 1)
	assert.Same(t, ee, reporter.reported[0])
	assert.True(t, ee.IsReported())
}

func TestScrubMessageForPrivacy(t *testing.T) {
	t.Parallel()

	got := scrubMessageForPrivacy("open /home/alice/audio/a.wav failed, dsn=https://k@x")
	assert.NotContains(t, got, "alice")
	assert.NotContains(t, got, "https://k@x")
	assert.Contains(t, got, "/home/[USER]/audio/a.wav")
}
