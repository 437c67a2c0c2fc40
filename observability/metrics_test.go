package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestJobMetricsRecordsTransitionsAndSettlement(t *testing.T) {
	m := JobMetrics()
	before := testutil.ToFloat64(m.transitions.WithLabelValues("jobs.completed"))
	m.RecordTransition("jobs.completed")
	require.Equal(t, before+1, testutil.ToFloat64(m.transitions.WithLabelValues("jobs.completed")))

	payoutBefore := testutil.ToFloat64(m.settled.WithLabelValues("USDC", "payout"))
	m.RecordSettlement("usdc", "500", "0")
	require.Equal(t, payoutBefore+500, testutil.ToFloat64(m.settled.WithLabelValues("USDC", "payout")))

	m.ObserveUnit(true, time.Millisecond)
	m.RecordDrop()
	require.Equal(t, JobMetrics(), m)
}

func TestModuleMetricsCountsErrors(t *testing.T) {
	m := ModuleMetrics()
	before := testutil.ToFloat64(m.errors.WithLabelValues("jobs", "jobs_post", "-32031"))
	m.Observe("jobs", "jobs_post", -32031, time.Millisecond)
	require.Equal(t, before+1, testutil.ToFloat64(m.errors.WithLabelValues("jobs", "jobs_post", "-32031")))
}

func TestAmountToFloat(t *testing.T) {
	require.Equal(t, 12.0, amountToFloat("12"))
	require.Zero(t, amountToFloat("-3"))
	require.Zero(t, amountToFloat("abc"))
}

func TestEventsRecordTransfer(t *testing.T) {
	m := Events()
	before := testutil.ToFloat64(m.transfers.WithLabelValues("USDC", "mint"))
	m.RecordTransfer(" usdc", "mint")
	require.Equal(t, before+1, testutil.ToFloat64(m.transfers.WithLabelValues("USDC", "mint")))
}
