package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordRankChange(t *testing.T) {
	up := testutil.ToFloat64(RankChangesTotal.WithLabelValues("test", "up"))
	down := testutil.ToFloat64(RankChangesTotal.WithLabelValues("test", "down"))

	RecordRankChange("test", 10, 4)
	RecordRankChange("test", 4, 9)
	RecordRankChange("test", 0, 9)
	RecordRankChange("test", 9, 9)

	assert.Equal(t, up+1, testutil.ToFloat64(RankChangesTotal.WithLabelValues("test", "up")))
	assert.Equal(t, down+1, testutil.ToFloat64(RankChangesTotal.WithLabelValues("test", "down")))
}

func TestRecordTaskRunSetsLastSuccess(t *testing.T) {
	at := time.Unix(1700000000, 0)
	RecordTaskRun("metrics-test", "success", time.Second, at)
	RecordTaskRun("metrics-test", "failure", time.Second, at.Add(time.Hour))

	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(TaskLastSuccess.WithLabelValues("metrics-test")))
	assert.Equal(t, 1.0, testutil.ToFloat64(TaskRunsTotal.WithLabelValues("metrics-test", "failure")))
}
