package metrics

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewTransferDisabledIsNilAndSafe(t *testing.T) {
	Reset()
	tr := NewTransfer()
	require.Nil(t, tr)

	// Calling through a nil receiver must not panic.
	tr.UploadBegin(KindContent)
	tr.UploadOffset(KindContent, 10)
	tr.DownloadBegin(KindMagic)
	tr.DownloadOffset(KindMagic, 20)
}

func TestTransferRecordsAgainstRegistry(t *testing.T) {
	Reset()
	transferOnce = sync.Once{}
	InitRegistry()
	defer Reset()

	tr := NewTransfer()
	require.NotNil(t, tr)

	tr.UploadBegin(KindContent)
	tr.UploadOffset(KindContent, 42)

	count := testutil.ToFloat64(tr.uploadBegins.WithLabelValues(KindContent))
	require.Equal(t, float64(1), count)

	offset := testutil.ToFloat64(tr.uploadOffset.WithLabelValues(KindContent))
	require.Equal(t, float64(42), offset)
}
