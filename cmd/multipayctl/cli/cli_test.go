package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/odyssey-erp/multipay/jobs"
)

func loadFixture(t *testing.T) BatchFile {
	t.Helper()
	f, err := os.Open(filepath.Join("testdata", "batch.yaml"))
	require.NoError(t, err)
	defer f.Close()
	file, err := LoadBatchFile(f)
	require.NoError(t, err)
	return file
}

func TestBuildPreviewGroupsPerPartner(t *testing.T) {
	preview, err := BuildPreview(context.Background(), loadFixture(t))
	require.NoError(t, err)

	b := preview.Batch
	assert.True(t, b.GroupPayment)
	assert.True(t, b.AmountTotal.Equal(decimal.NewFromInt(150)), b.AmountTotal.String())
	assert.True(t, b.AmountResidual.Equal(decimal.NewFromInt(5)), b.AmountResidual.String())
	require.Len(t, preview.Entries, 2)

	assert.Equal(t, int64(1), preview.Entries[0].PartnerID)
	assert.Len(t, preview.Entries[0].Lines, 2)
	assert.Equal(t, int64(2), preview.Entries[1].PartnerID)
	require.Len(t, preview.Entries[1].Lines, 3)
	assert.Equal(t, "Bank fees", preview.Entries[1].Lines[2].Name)

	for _, entry := range preview.Entries {
		assert.Equal(t, "MXN", entry.Currency)
		sum := decimal.Zero
		for _, line := range entry.Lines {
			sum = sum.Add(line.Debit).Sub(line.Credit)
		}
		assert.True(t, sum.IsZero())
	}
}

func TestBuildPreviewForcedCurrencyAndSingleEntry(t *testing.T) {
	file := loadFixture(t)
	off := false
	file.Group = &off
	file.Currency = "usd"

	preview, err := BuildPreview(context.Background(), file)
	require.NoError(t, err)
	require.Len(t, preview.Entries, 1)
	entry := preview.Entries[0]
	assert.Equal(t, "USD", entry.Currency)
	assert.Equal(t, int64(1), entry.PartnerID)
	assert.Len(t, entry.Lines, 5)
	// 100 USD at 0.05 USD per MXN
	assert.True(t, entry.Lines[0].Debit.Equal(decimal.NewFromInt(2000)), entry.Lines[0].Debit.String())
}

func TestBuildPreviewRejectsBadInput(t *testing.T) {
	cases := map[string]func(*BatchFile){
		"mixed direction": func(f *BatchFile) { f.Rows[1].Direction = "outbound" },
		"bad handling":    func(f *BatchFile) { f.Rows[0].Handling = "ignore" },
		"bad date":        func(f *BatchFile) { f.PaymentDate = "15/03/2026" },
		"bad rate":        func(f *BatchFile) { f.Rates["USD"] = "x" },
		"zero amount":     func(f *BatchFile) { f.Rows[0].Amount = "0" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			file := loadFixture(t)
			mutate(&file)
			_, err := BuildPreview(context.Background(), file)
			assert.Error(t, err)
		})
	}

	_, err := LoadBatchFile(strings.NewReader("company: {id: 1}\n"))
	assert.Error(t, err)
	_, err = LoadBatchFile(strings.NewReader("unknown: 1\nrows: [{move: a}]\n"))
	assert.Error(t, err)
}

func TestPreviewCommandWritesTextAndXLSX(t *testing.T) {
	out := new(bytes.Buffer)
	xlsx := filepath.Join(t.TempDir(), "preview.xlsx")
	root := NewRootCommand(out, out)
	root.SetArgs([]string{"preview", "-f", filepath.Join("testdata", "batch.yaml"), "--xlsx", xlsx})
	require.NoError(t, root.Execute())

	assert.Contains(t, out.String(), "total 150.00")
	assert.Contains(t, out.String(), "Bank fees")
	assert.Contains(t, out.String(), "written "+xlsx)

	f, err := excelize.OpenFile(xlsx)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Preview")
	require.NoError(t, err)
	assert.Len(t, rows, 6)
	assert.Equal(t, "Entry", rows[0][0])
}

func TestVersionCommand(t *testing.T) {
	out := new(bytes.Buffer)
	root := NewRootCommand(out, out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "multipayctl dev\n", out.String())
}

type fakeQueue struct {
	tasks []*asynq.Task
	info  *asynq.QueueInfo
	err   error
}

func (f *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "t1", Type: task.Type()}, nil
}

func (f *fakeQueue) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return f.info, f.err
}

func (f *fakeQueue) ListScheduledTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return []*asynq.TaskInfo{{ID: "s1", Type: jobs.TaskIdempotencyCleanup, NextProcessAt: time.Now()}}, nil
}

func (f *fakeQueue) Close() error { return nil }

func TestJobsCLI(t *testing.T) {
	q := &fakeQueue{info: &asynq.QueueInfo{Queue: jobs.QueueDefault, Pending: 3, Retry: 1}}
	cli := &JobsCLI{client: q, inspector: q}
	ctx := context.Background()

	info, err := cli.Trigger(ctx, jobs.TaskMultipayRemittance, TriggerInput{CompanyID: 1, MoveIDs: []int64{9}})
	require.NoError(t, err)
	assert.Equal(t, jobs.TaskMultipayRemittance, info.Type)

	_, err = cli.Trigger(ctx, jobs.TaskMultipayRemittance, TriggerInput{CompanyID: 1})
	assert.Error(t, err)
	_, err = cli.Trigger(ctx, "inventory:revalue", TriggerInput{})
	assert.Error(t, err)

	_, err = cli.Trigger(ctx, jobs.TaskIdempotencyCleanup, TriggerInput{Retention: time.Hour})
	require.NoError(t, err)
	assert.Len(t, q.tasks, 2)

	stats, err := cli.InspectQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, QueueStats{Queue: jobs.QueueDefault, Pending: 3, Retry: 1}, stats)

	scheduled, err := cli.ListScheduled(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, scheduled, 1)

	q.err = errors.New("redis down")
	_, err = cli.InspectQueue(ctx)
	assert.Error(t, err)
	require.NoError(t, cli.Close())

	var nilCLI *JobsCLI
	_, err = nilCLI.InspectQueue(ctx)
	assert.Error(t, err)
}
