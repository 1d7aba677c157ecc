package metrics

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/fzmap/mapserver/common/testlogger"
)

func TestBuildTimestamp(t *testing.T) {
	reference, err := time.Parse(time.RFC3339, "2021-04-29T20:23:35Z")
	require.NoError(t, err)
	require.Equal(t, reference.Unix(), getBuildTimestamp("29/04/2021@20:23:35"))
	require.Zero(t, getBuildTimestamp(""))
	require.Zero(t, getBuildTimestamp("yesterday"))
}

func TestObserveOperation(t *testing.T) {
	before := testutil.ToFloat64(Operations.WithLabelValues("get_points", "ok"))
	ObserveOperation("get_points", "ok", time.Now())
	require.Equal(t, before+1, testutil.ToFloat64(Operations.WithLabelValues("get_points", "ok")))
}

func TestStartServesMetrics(t *testing.T) {
	l := Start(testlogger.New(t), "127.0.0.1:0", nil)
	require.NotNil(t, l)
	defer l.Close()

	OffsetRotations.Inc()
	resp, err := http.Get("http://" + l.Addr().String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "mapserver_offset_rotations_total")
}
