// Package handlers maps UI commands onto session transitions and export delivery.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/OCAP2/mapmarkers/internal/dispatcher"
	"github.com/OCAP2/mapmarkers/internal/export"
	"github.com/OCAP2/mapmarkers/internal/geo"
	"github.com/OCAP2/mapmarkers/internal/session"
	"github.com/OCAP2/mapmarkers/internal/stats"
	"github.com/OCAP2/mapmarkers/internal/storage"
	"github.com/OCAP2/mapmarkers/internal/util"
	"github.com/OCAP2/mapmarkers/pkg/core"

	"github.com/google/uuid"
)

// Command names accepted from the UI.
const (
	CmdPointerClicked = ":POINTER:CLICKED:"
	CmdPointerHover   = ":POINTER:HOVER:"
	CmdPointerLeft    = ":POINTER:LEFT:"
	CmdDragStart      = ":DRAG:START:"
	CmdDragEnd        = ":DRAG:END:"
	CmdMarkerScore    = ":MARKER:SCORE:"
	CmdMarkerEdit     = ":MARKER:EDIT:"
	CmdMarkerRemove   = ":MARKER:REMOVE:"
	CmdPopupClose     = ":POPUP:CLOSE:"
	CmdView           = ":VIEW:"
	CmdStats          = ":STATS:"
	CmdExport         = ":EXPORT:"
	CmdExportLast     = ":EXPORT:LAST:"
	CmdExportList     = ":EXPORT:LIST:"
	CmdImport         = ":IMPORT:"
)

const (
	defaultDeliverTimeout = 10 * time.Second
	defaultListLimit      = 10
)

// ErrBadArgs is returned when a command's arguments cannot be parsed.
var ErrBadArgs = errors.New("bad arguments")

// ErrNoLoader is returned by :EXPORT:LAST: when the sink cannot read back exports.
var ErrNoLoader = errors.New("storage sink does not keep exports")

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Session *session.Session
	// Sink receives :EXPORT: documents; nil means the document is only returned.
	Sink           storage.Sink
	Logger         *slog.Logger
	Flush          func(context.Context) error
	DeliverTimeout time.Duration
}

// Service provides handler methods for processing UI commands
type Service struct {
	deps Dependencies
	log  *slog.Logger
}

// StatsResult is the stats panel content.
type StatsResult struct {
	Scores stats.Table `json:"scores"`
	Total  int         `json:"total"`
	Mean   float64     `json:"mean"`
}

// ExportResult carries the export text and, when a sink is configured, where it went.
type ExportResult struct {
	Document json.RawMessage      `json:"document"`
	Metadata *core.ExportMetadata `json:"metadata,omitempty"`
}

// ImportResult reports how many markers an import added.
type ImportResult struct {
	Imported int `json:"imported"`
}

// NewService creates a new handler service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.DeliverTimeout <= 0 {
		deps.DeliverTimeout = defaultDeliverTimeout
	}
	return &Service{deps: deps, log: deps.Logger}
}

// RegisterHandlers registers every marker command with the dispatcher. State
// changes apply one at a time in arrival order; queries are ReadOnly.
func (s *Service) RegisterHandlers(d *dispatcher.Dispatcher) {
	d.Register(CmdPointerClicked, s.handlePointerClicked, dispatcher.Logged())
	d.Register(CmdPointerHover, s.handlePointerHover, dispatcher.Logged())
	d.Register(CmdPointerLeft, s.handlePointerLeft, dispatcher.Logged())
	d.Register(CmdDragStart, s.handleDragStart, dispatcher.Logged())
	d.Register(CmdDragEnd, s.handleDragEnd, dispatcher.Logged())
	d.Register(CmdMarkerScore, s.handleMarkerScore, dispatcher.Logged())
	d.Register(CmdMarkerEdit, s.handleMarkerEdit, dispatcher.Logged())
	d.Register(CmdMarkerRemove, s.handleMarkerRemove, dispatcher.Logged())
	d.Register(CmdPopupClose, s.handlePopupClose, dispatcher.Logged())
	d.Register(CmdView, s.handleView, dispatcher.ReadOnly())
	d.Register(CmdStats, s.handleStats, dispatcher.ReadOnly())
	d.Register(CmdExport, s.handleExport, dispatcher.Logged())
	d.Register(CmdExportLast, s.handleExportLast, dispatcher.ReadOnly(), dispatcher.Logged())
	d.Register(CmdExportList, s.handleExportList, dispatcher.ReadOnly(), dispatcher.Logged())
	d.Register(CmdImport, s.handleImport, dispatcher.Logged())
}

func (s *Service) handlePointerClicked(e dispatcher.Event) (any, error) {
	pos, err := positionArg(e.Args, 0)
	if err != nil {
		return nil, err
	}
	return s.deps.Session.PointerClicked(pos), nil
}

func (s *Service) handlePointerHover(e dispatcher.Event) (any, error) {
	pos, err := positionArg(e.Args, 0)
	if err != nil {
		return nil, err
	}
	return s.deps.Session.PointerHovered(pos), nil
}

func (s *Service) handlePointerLeft(dispatcher.Event) (any, error) {
	return s.deps.Session.PointerLeft(), nil
}

func (s *Service) handleDragStart(dispatcher.Event) (any, error) {
	return s.deps.Session.DragStarted(), nil
}

func (s *Service) handleDragEnd(e dispatcher.Event) (any, error) {
	id, err := idArg(e.Args, 0)
	if err != nil {
		return nil, err
	}
	pos, err := positionArg(e.Args, 1)
	if err != nil {
		return nil, err
	}
	return s.deps.Session.DragEnded(id, pos), nil
}

func (s *Service) handleMarkerScore(e dispatcher.Event) (any, error) {
	id, err := idArg(e.Args, 0)
	if err != nil {
		return nil, err
	}
	raw, err := arg(e.Args, 1)
	if err != nil {
		return nil, err
	}
	// fractional scores are rejected rather than rounded
	value, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: score %q: %v", ErrBadArgs, raw, err)
	}
	return s.deps.Session.SetScore(id, value), nil
}

func (s *Service) handleMarkerEdit(e dispatcher.Event) (any, error) {
	id, err := idArg(e.Args, 0)
	if err != nil {
		return nil, err
	}
	title, err := arg(e.Args, 1)
	if err != nil {
		return nil, err
	}
	// description may be omitted
	description, _ := arg(e.Args, 2)
	return s.deps.Session.EditMarker(id, title, description), nil
}

func (s *Service) handleMarkerRemove(e dispatcher.Event) (any, error) {
	id, err := idArg(e.Args, 0)
	if err != nil {
		return nil, err
	}
	return s.deps.Session.RemoveMarker(id), nil
}

func (s *Service) handlePopupClose(dispatcher.Event) (any, error) {
	return s.deps.Session.ClosePopup(), nil
}

func (s *Service) handleView(dispatcher.Event) (any, error) {
	return s.deps.Session.View(), nil
}

func (s *Service) handleStats(dispatcher.Event) (any, error) {
	table := s.deps.Session.Stats()
	return StatsResult{Scores: table, Total: table.Total(), Mean: table.Mean()}, nil
}

func (s *Service) handleExport(e dispatcher.Event) (any, error) {
	snap := s.deps.Session.Snapshot()
	data, err := export.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("export markers: %w", err)
	}
	result := ExportResult{Document: data}

	if s.deps.Sink == nil {
		return result, nil
	}

	ex := core.Export{
		ID:      uuid.New(),
		Time:    e.Timestamp,
		Data:    data,
		Markers: snap,
		Scores:  stats.Aggregate(snap),
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.deps.DeliverTimeout)
	defer cancel()

	meta, err := s.deps.Sink.Deliver(ctx, ex)
	if err != nil {
		return nil, fmt.Errorf("deliver export %s: %w", ex.ID, err)
	}
	s.log.Info("Export delivered", "id", meta.ID.String(), "markers", meta.MarkerCount, "location", meta.Location)
	result.Metadata = &meta

	if s.deps.Flush != nil {
		if err := s.deps.Flush(ctx); err != nil {
			s.log.Warn("Failed to flush telemetry", "error", err)
		}
	}
	return result, nil
}

// handleExportLast reports the most recently delivered export. It never
// loads the markers back into the session.
func (s *Service) handleExportLast(dispatcher.Event) (any, error) {
	loader, ok := s.deps.Sink.(storage.Loader)
	if !ok {
		return nil, ErrNoLoader
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.deps.DeliverTimeout)
	defer cancel()

	ex, err := loader.Latest(ctx)
	if err != nil {
		return nil, err
	}
	return ExportResult{
		Document: ex.Data,
		Metadata: &core.ExportMetadata{
			ID:          ex.ID,
			Time:        ex.Time,
			MarkerCount: ex.Markers.Len(),
		},
	}, nil
}

// handleExportList returns metadata of recent exports, newest first. The
// optional argument is the maximum number of entries.
func (s *Service) handleExportList(e dispatcher.Event) (any, error) {
	lister, ok := s.deps.Sink.(storage.Lister)
	if !ok {
		return nil, ErrNoLoader
	}

	limit := defaultListLimit
	if len(e.Args) > 0 {
		raw := util.CleanArg(e.Args[0])
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: limit %q", ErrBadArgs, raw)
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.deps.DeliverTimeout)
	defer cancel()

	return lister.List(ctx, limit)
}

func (s *Service) handleImport(e dispatcher.Event) (any, error) {
	// the document is passed raw; CleanArg would unescape quotes inside it
	if len(e.Args) == 0 {
		return nil, fmt.Errorf("%w: missing document", ErrBadArgs)
	}
	n, err := s.deps.Session.Import([]byte(e.Args[0]))
	if err != nil {
		return nil, err
	}
	s.log.Info("Imported markers", "count", n)
	return ImportResult{Imported: n}, nil
}

func arg(args []string, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("%w: expected at least %d, got %d", ErrBadArgs, i+1, len(args))
	}
	return util.CleanArg(args[i]), nil
}

func idArg(args []string, i int) (core.MarkerID, error) {
	raw, err := arg(args, i)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: marker id %q: %v", ErrBadArgs, raw, err)
	}
	return core.MarkerID(id), nil
}

// positionArg parses a "lon,lat" or "[lon,lat]" argument. Range checks are left to the
// session so out of range positions are reported as ignored events.
func positionArg(args []string, i int) (core.Position, error) {
	raw, err := arg(args, i)
	if err != nil {
		return core.Position{}, err
	}
	pos, err := geo.PositionFromString(strings.Trim(raw, "[]"))
	if err != nil {
		return core.Position{}, fmt.Errorf("%w: position %q: %w", ErrBadArgs, raw, err)
	}
	return pos, nil
}
