package session_test

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextcloud/go_kaldi_serve/internal/dispatch"
	"github.com/nextcloud/go_kaldi_serve/internal/engine/fakeengine"
	"github.com/nextcloud/go_kaldi_serve/internal/lattice"
	"github.com/nextcloud/go_kaldi_serve/internal/metrics"
	"github.com/nextcloud/go_kaldi_serve/internal/model"
	"github.com/nextcloud/go_kaldi_serve/internal/session"
)

func newDriver(t *testing.T, opts ...fakeengine.Option) (*session.Driver, model.ID) {
	t.Helper()
	spec := model.Spec{Name: "general", LanguageCode: "en", Path: "/models/en", NDecoders: 2}
	d, err := dispatch.New([]model.Spec{spec}, fakeengine.Factory{Opts: opts}, nil)
	require.NoError(t, err)
	return session.New(d, nil), spec.ID()
}

func TestDriver_Recognize_UnknownModelIsModelNotFound(t *testing.T) {
	d, _ := newDriver(t)
	_, err := d.Recognize(context.Background(), session.Config{ModelID: model.ID{Name: "nope"}}, make([]int16, 100))
	var serr *session.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, session.ErrorKindModelNotFound, serr.Kind)
}

func TestDriver_Recognize_FullUtterance(t *testing.T) {
	d, id := newDriver(t, fakeengine.WithFramesPerWord(50))
	results, err := d.Recognize(context.Background(), session.Config{
		ModelID: id, NBest: 1, SampleRateHz: 16000,
	}, make([]int16, 1600))
	require.NoError(t, err)
	require.NotEmpty(t, results)
}

type sliceSource struct {
	chunks [][]int16
	i      int
}

func (s *sliceSource) Next(ctx context.Context) ([]int16, error) {
	if s.i >= len(s.chunks) {
		return nil, session.ErrEndOfChunks
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}

func TestDriver_StreamingRecognize_ReadsUntilEndOfChunks(t *testing.T) {
	d, id := newDriver(t, fakeengine.WithFramesPerWord(50))
	src := &sliceSource{chunks: [][]int16{make([]int16, 800), make([]int16, 800)}}
	results, err := d.StreamingRecognize(context.Background(), session.Config{
		ModelID: id, NBest: 1, SampleRateHz: 16000,
	}, src)
	require.NoError(t, err)
	require.NotEmpty(t, results)
}

type collectSink struct {
	mu      sync.Mutex
	sends   []bool // final flag per call
	results [][]lattice.Alternative
}

func (c *collectSink) Send(ctx context.Context, alts []lattice.Alternative, final bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends = append(c.sends, final)
	c.results = append(c.results, alts)
	return nil
}

func TestDriver_BidiStreamingRecognize_EmitsInterimThenFinal(t *testing.T) {
	d, id := newDriver(t, fakeengine.WithFramesPerWord(50))
	src := &sliceSource{chunks: [][]int16{make([]int16, 800), make([]int16, 800), make([]int16, 800)}}
	sink := &collectSink{}
	err := d.BidiStreamingRecognize(context.Background(), session.Config{
		ModelID: id, NBest: 1, SampleRateHz: 16000,
	}, src, sink)
	require.NoError(t, err)

	require.Len(t, sink.sends, 4) // 3 interim + 1 final
	for _, final := range sink.sends[:3] {
		assert.False(t, final)
	}
	assert.True(t, sink.sends[3])
}

func TestDriver_Recognize_ContextCancelledDuringAcquireIsCancelledKind(t *testing.T) {
	d, id := newDriver(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Recognize(ctx, session.Config{ModelID: id, SampleRateHz: 16000}, make([]int16, 10))
	var serr *session.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, session.ErrorKindCancelled, serr.Kind)
}

func TestDriver_Recognize_RecordsRequestAndErrorMetrics(t *testing.T) {
	spec := model.Spec{Name: "general", LanguageCode: "en", Path: "/models/en", NDecoders: 1}
	d, err := dispatch.New([]model.Spec{spec}, fakeengine.Factory{Opts: []fakeengine.Option{fakeengine.WithFramesPerWord(50)}}, nil)
	require.NoError(t, err)
	collectors := metrics.New()
	driver := session.New(d, collectors)
	id := spec.ID()

	_, err = driver.Recognize(context.Background(), session.Config{ModelID: id, NBest: 1, SampleRateHz: 16000}, make([]int16, 1600))
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(collectors.RequestsTotal.WithLabelValues("general", "en", "unary")))
	assert.Equal(t, uint64(1), testutil.CollectAndCount(collectors.DecodeDurationS))

	_, err = driver.Recognize(context.Background(), session.Config{ModelID: model.ID{Name: "nope"}}, make([]int16, 10))
	require.Error(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(collectors.RequestErrors.WithLabelValues("nope", "", session.ErrorKindModelNotFound.String())))
}
