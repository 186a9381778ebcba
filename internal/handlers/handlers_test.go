package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/OCAP2/mapmarkers/internal/dispatcher"
	"github.com/OCAP2/mapmarkers/internal/export"
	"github.com/OCAP2/mapmarkers/internal/geo"
	"github.com/OCAP2/mapmarkers/internal/session"
	"github.com/OCAP2/mapmarkers/internal/storage"
	"github.com/OCAP2/mapmarkers/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSink implements storage.Sink and storage.Loader for testing
type mockSink struct {
	delivered []core.Export
	err       error
	deadline  bool
}

func (m *mockSink) Init() error  { return nil }
func (m *mockSink) Close() error { return nil }

func (m *mockSink) Deliver(ctx context.Context, e core.Export) (core.ExportMetadata, error) {
	_, m.deadline = ctx.Deadline()
	if m.err != nil {
		return core.ExportMetadata{}, m.err
	}
	m.delivered = append(m.delivered, e)
	return core.ExportMetadata{ID: e.ID, Time: e.Time, MarkerCount: e.Markers.Len(), Location: "mock"}, nil
}

func (m *mockSink) Latest(context.Context) (core.Export, error) {
	if len(m.delivered) == 0 {
		return core.Export{}, storage.ErrNoExport
	}
	return m.delivered[len(m.delivered)-1], nil
}

func (m *mockSink) List(_ context.Context, limit int) ([]core.ExportMetadata, error) {
	var out []core.ExportMetadata
	for i := len(m.delivered) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.delivered[i]
		out = append(out, core.ExportMetadata{ID: e.ID, Time: e.Time, MarkerCount: e.Markers.Len(), Location: "mock"})
	}
	return out, nil
}

var (
	_ storage.Sink   = (*mockSink)(nil)
	_ storage.Loader = (*mockSink)(nil)
	_ storage.Lister = (*mockSink)(nil)
)

// sinkOnly hides the Loader methods of mockSink
type sinkOnly struct{ storage.Sink }

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func newTestDispatcher(t *testing.T, sink storage.Sink) (*dispatcher.Dispatcher, *session.Session) {
	t.Helper()
	sess, err := session.New(session.Options{})
	require.NoError(t, err)

	d, err := dispatcher.New(nopLogger{})
	require.NoError(t, err)

	NewService(Dependencies{Session: sess, Sink: sink}).RegisterHandlers(d)
	return d, sess
}

func dispatch(t *testing.T, d *dispatcher.Dispatcher, command string, args ...string) any {
	t.Helper()
	res, err := d.Dispatch(dispatcher.Event{Command: command, Args: args})
	require.NoError(t, err)
	return res
}

func TestRegisterHandlers_AllCommands(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)

	for _, cmd := range []string{
		CmdPointerClicked, CmdPointerHover, CmdPointerLeft, CmdDragStart, CmdDragEnd,
		CmdMarkerScore, CmdMarkerEdit, CmdMarkerRemove, CmdPopupClose,
		CmdView, CmdStats, CmdExport, CmdExportLast, CmdExportList, CmdImport,
	} {
		assert.True(t, d.HasHandler(cmd), cmd)
	}
}

func TestPointerClicked(t *testing.T) {
	d, sess := newTestDispatcher(t, nil)

	res := dispatch(t, d, CmdPointerClicked, `"24.0009,49.8026"`)
	r, ok := res.(session.Result)
	require.True(t, ok)
	assert.True(t, r.Changed)
	assert.Equal(t, core.MarkerID(1), r.ID)

	active, ok := sess.Active()
	require.True(t, ok)
	assert.Equal(t, core.Position{Lon: 24.0009, Lat: 49.8026}, active.Position)
}

func TestPointerClicked_BracketedPosition(t *testing.T) {
	d, sess := newTestDispatcher(t, nil)

	dispatch(t, d, CmdPointerClicked, "[10.5,-3.25]")
	require.Len(t, sess.Snapshot(), 1)
	assert.Equal(t, core.Position{Lon: 10.5, Lat: -3.25}, sess.Snapshot()[0].Position)
}

func TestPointerClicked_OutOfRangeIsIgnored(t *testing.T) {
	d, sess := newTestDispatcher(t, nil)

	r := dispatch(t, d, CmdPointerClicked, "200,0").(session.Result)
	assert.False(t, r.Changed)
	assert.Equal(t, session.ReasonInvalidPosition, r.Reason)
	assert.Empty(t, sess.Snapshot())
}

func TestBadArgs(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)

	tests := []struct {
		name    string
		command string
		args    []string
	}{
		{"click without args", CmdPointerClicked, nil},
		{"click garbage", CmdPointerClicked, []string{"north"}},
		{"hover single value", CmdPointerHover, []string{"24.0"}},
		{"drag end without position", CmdDragEnd, []string{"1"}},
		{"drag end bad id", CmdDragEnd, []string{"x", "1,1"}},
		{"negative id", CmdMarkerRemove, []string{"-1"}},
		{"fractional score", CmdMarkerScore, []string{"1", "2.5"}},
		{"edit without title", CmdMarkerEdit, []string{"1"}},
		{"import without document", CmdImport, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Dispatch(dispatcher.Event{Command: tt.command, Args: tt.args})
			assert.ErrorIs(t, err, ErrBadArgs)
		})
	}
}

func TestMarkerLifecycle(t *testing.T) {
	d, sess := newTestDispatcher(t, nil)

	dispatch(t, d, CmdPointerClicked, "24.0,49.8")
	dispatch(t, d, CmdPointerClicked, "23.9,49.7")

	r := dispatch(t, d, CmdMarkerScore, "1", "4").(session.Result)
	assert.True(t, r.Changed)
	r = dispatch(t, d, CmdMarkerScore, "2", "9").(session.Result)
	assert.True(t, r.Changed)

	r = dispatch(t, d, CmdMarkerEdit, "1", `"the ""old"" mill"`, "by the river").(session.Result)
	assert.True(t, r.Changed)

	snap := sess.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, core.Score(4), snap[0].Score)
	assert.Equal(t, core.MaxScore, snap[1].Score)
	assert.Equal(t, `the "old" mill`, snap[0].Title)
	assert.Equal(t, "by the river", snap[0].Description)

	dispatch(t, d, CmdDragStart)
	r = dispatch(t, d, CmdDragEnd, "2", "25.0,50.0").(session.Result)
	assert.True(t, r.Changed)
	assert.Equal(t, core.Position{Lon: 25.0, Lat: 50.0}, sess.Snapshot()[1].Position)

	r = dispatch(t, d, CmdMarkerRemove, "1").(session.Result)
	assert.True(t, r.Changed)
	r = dispatch(t, d, CmdMarkerRemove, "1").(session.Result)
	assert.False(t, r.Changed)
	assert.Equal(t, session.ReasonUnknownID, r.Reason)
	assert.Len(t, sess.Snapshot(), 1)
}

func TestHoverAndPopup(t *testing.T) {
	d, sess := newTestDispatcher(t, nil)

	r := dispatch(t, d, CmdPointerHover, "0,0").(session.Result)
	assert.Equal(t, session.ReasonNoMarker, r.Reason)

	dispatch(t, d, CmdPointerClicked, "24.0,49.8")
	r = dispatch(t, d, CmdPopupClose).(session.Result)
	assert.True(t, r.Changed)

	r = dispatch(t, d, CmdPointerHover, "24.1,49.9").(session.Result)
	assert.True(t, r.Changed)
	assert.Equal(t, core.MarkerID(1), r.ID)

	// pointer left is ignored unless clearOnLeave is set
	r = dispatch(t, d, CmdPointerLeft).(session.Result)
	assert.False(t, r.Changed)
	_, ok := sess.Active()
	assert.True(t, ok)
}

func TestViewAndStats(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)

	dispatch(t, d, CmdPointerClicked, "24.0,49.8")
	dispatch(t, d, CmdPointerClicked, "23.9,49.7")
	dispatch(t, d, CmdMarkerScore, "1", "3")
	dispatch(t, d, CmdMarkerScore, "2", "3")

	v, ok := dispatch(t, d, CmdView).(core.View)
	require.True(t, ok)
	assert.Equal(t, 2, v.Count)
	require.NotNil(t, v.Active)
	assert.Equal(t, core.MarkerID(2), v.Active.ID)

	st, ok := dispatch(t, d, CmdStats).(StatsResult)
	require.True(t, ok)
	assert.Equal(t, 2, st.Scores[3])
	assert.Equal(t, 2, st.Total)
	assert.InDelta(t, 3.0, st.Mean, 1e-9)
}

func TestExport_WithoutSink(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)

	res := dispatch(t, d, CmdExport).(ExportResult)
	assert.JSONEq(t, `[]`, string(res.Document))
	assert.Nil(t, res.Metadata)
}

func TestExport_DeliversToSink(t *testing.T) {
	sink := &mockSink{}
	d, sess := newTestDispatcher(t, sink)

	dispatch(t, d, CmdPointerClicked, "24.0,49.8")
	dispatch(t, d, CmdMarkerScore, "1", "5")

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	out, err := d.Dispatch(dispatcher.Event{Command: CmdExport, Timestamp: at})
	require.NoError(t, err)
	res := out.(ExportResult)

	require.Len(t, sink.delivered, 1)
	ex := sink.delivered[0]
	assert.True(t, sink.deadline)
	assert.Equal(t, at, ex.Time)
	assert.Equal(t, sess.Snapshot(), ex.Markers)
	assert.Equal(t, 1, ex.Scores[5])
	assert.Equal(t, []byte(res.Document), ex.Data)

	require.NotNil(t, res.Metadata)
	assert.Equal(t, ex.ID, res.Metadata.ID)
	assert.Equal(t, "mock", res.Metadata.Location)

	back, err := export.Unmarshal(res.Document)
	require.NoError(t, err)
	require.Len(t, back, 1)
	assert.Equal(t, core.Score(5), back[0].Score)
}

func TestExport_SinkFailure(t *testing.T) {
	sinkErr := errors.New("disk full")
	d, _ := newTestDispatcher(t, &mockSink{err: sinkErr})

	_, err := d.Dispatch(dispatcher.Event{Command: CmdExport})
	assert.ErrorIs(t, err, sinkErr)
}

func TestExport_Flush(t *testing.T) {
	sess, err := session.New(session.Options{})
	require.NoError(t, err)
	d, err := dispatcher.New(nopLogger{})
	require.NoError(t, err)

	flushed := 0
	NewService(Dependencies{
		Session: sess,
		Sink:    &mockSink{},
		Flush: func(context.Context) error {
			flushed++
			return nil
		},
	}).RegisterHandlers(d)

	dispatch(t, d, CmdExport)
	assert.Equal(t, 1, flushed)
}

func TestExportLast(t *testing.T) {
	sink := &mockSink{}
	d, sess := newTestDispatcher(t, sink)

	_, err := d.Dispatch(dispatcher.Event{Command: CmdExportLast})
	assert.ErrorIs(t, err, storage.ErrNoExport)

	dispatch(t, d, CmdPointerClicked, "24.0,49.8")
	exported := dispatch(t, d, CmdExport).(ExportResult)
	dispatch(t, d, CmdPointerClicked, "23.0,48.0")

	last := dispatch(t, d, CmdExportLast).(ExportResult)
	assert.Equal(t, exported.Document, last.Document)
	require.NotNil(t, last.Metadata)
	assert.Equal(t, exported.Metadata.ID, last.Metadata.ID)
	assert.Equal(t, 1, last.Metadata.MarkerCount)

	// reading back never touches the session
	assert.Len(t, sess.Snapshot(), 2)
}

func TestExportLast_NoLoader(t *testing.T) {
	d, _ := newTestDispatcher(t, sinkOnly{&mockSink{}})

	_, err := d.Dispatch(dispatcher.Event{Command: CmdExportLast})
	assert.ErrorIs(t, err, ErrNoLoader)

	d, _ = newTestDispatcher(t, nil)
	_, err = d.Dispatch(dispatcher.Event{Command: CmdExportLast})
	assert.ErrorIs(t, err, ErrNoLoader)
}

func TestExportList(t *testing.T) {
	sink := &mockSink{}
	d, _ := newTestDispatcher(t, sink)

	first := dispatch(t, d, CmdExport).(ExportResult)
	dispatch(t, d, CmdPointerClicked, "24.0,49.8")
	second := dispatch(t, d, CmdExport).(ExportResult)

	list, ok := dispatch(t, d, CmdExportList).([]core.ExportMetadata)
	require.True(t, ok)
	require.Len(t, list, 2)
	assert.Equal(t, second.Metadata.ID, list[0].ID)
	assert.Equal(t, first.Metadata.ID, list[1].ID)

	list = dispatch(t, d, CmdExportList, "1").([]core.ExportMetadata)
	assert.Len(t, list, 1)

	_, err := d.Dispatch(dispatcher.Event{Command: CmdExportList, Args: []string{"0"}})
	assert.ErrorIs(t, err, ErrBadArgs)
}

func TestImport(t *testing.T) {
	d, sess := newTestDispatcher(t, nil)

	doc, err := export.Marshal(core.Snapshot{
		{Position: core.Position{Lon: 1, Lat: 2}, Title: "a", Score: 2},
		{Position: core.Position{Lon: 3, Lat: 4}, Title: `say "hi"`, Description: "d"},
	})
	require.NoError(t, err)

	dispatch(t, d, CmdPointerClicked, "0,0")
	res := dispatch(t, d, CmdImport, string(doc)).(ImportResult)
	assert.Equal(t, 2, res.Imported)

	snap := sess.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, core.MarkerID(2), snap[1].ID)
	assert.Equal(t, `say "hi"`, snap[2].Title)
}

func TestImport_RejectsInvalidDocument(t *testing.T) {
	d, sess := newTestDispatcher(t, nil)

	_, err := d.Dispatch(dispatcher.Event{Command: CmdImport, Args: []string{
		`[{"type":"Feature","geometry":{"type":"Point","coordinates":[500,0]},"properties":{}}]`,
	}})
	require.Error(t, err)
	assert.ErrorIs(t, err, geo.ErrInvalidPosition)
	assert.Empty(t, sess.Snapshot())
}
