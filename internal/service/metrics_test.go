package service

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpmidhlaj/watchmate/internal/config"
)

// counterValue reads the current value of c, or of the child of a vector
// selected by labels.
func counterValue(t *testing.T, c prometheus.Collector, labels map[string]string) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 16)
	c.Collect(ch)
	close(ch)

	for m := range ch {
		d := &dto.Metric{}
		require.NoError(t, m.Write(d))
		if matchLabels(d, labels) {
			return d.GetCounter().GetValue()
		}
	}
	return 0
}

func matchLabels(d *dto.Metric, labels map[string]string) bool {
	for k, v := range labels {
		found := false
		for _, lp := range d.GetLabel() {
			if lp.GetName() == k && lp.GetValue() == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func TestMetrics_SubmissionResults(t *testing.T) {
	f := newFixture(t, LedgerConfig{DuplicatePolicy: config.DuplicatePolicyReject})
	created := map[string]string{"result": "created"}
	rejected := map[string]string{"result": "rejected"}

	beforeCreated := counterValue(t, ledgerSubmissions, created)
	beforeRejected := counterValue(t, ledgerSubmissions, rejected)

	f.submit(t, "u1", 4)
	_, err := f.ledger.SubmitReview(context.Background(), SubmitReviewInput{
		WatchlistID: "item", UserID: "u1", Rating: 2,
	})
	require.Error(t, err)

	assert.Equal(t, beforeCreated+1, counterValue(t, ledgerSubmissions, created))
	assert.Equal(t, beforeRejected+1, counterValue(t, ledgerSubmissions, rejected))
}

func TestMetrics_DeactivationCounted(t *testing.T) {
	f := newFixture(t, LedgerConfig{})
	res := f.submit(t, "u1", 4)

	before := counterValue(t, ledgerDeactivations, nil)
	_, err := f.ledger.DeactivateReview(context.Background(), res.Review.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, before+1, counterValue(t, ledgerDeactivations, nil))

	// A second deactivation is a no-op and is not counted.
	_, err = f.ledger.DeactivateReview(context.Background(), res.Review.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, before+1, counterValue(t, ledgerDeactivations, nil))
}
