package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sprite-ai/repolens/internal/githost"
	"github.com/sprite-ai/repolens/internal/highlight"
	"github.com/sprite-ai/repolens/internal/insight"
	"github.com/sprite-ai/repolens/internal/jump"
	"github.com/sprite-ai/repolens/internal/model"
	"github.com/sprite-ai/repolens/internal/reviewapi"
	"github.com/sprite-ai/repolens/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024 * 64,
	WriteBufferSize: 1024 * 64,
}

// WebSocket message types from client.
const (
	wsMsgOpenRepo      = "open_repo"
	wsMsgSelectBranch  = "select_branch"
	wsMsgLoadFile      = "load_file"
	wsMsgReviewFile    = "review_file"
	wsMsgReviewProject = "review_project"
	wsMsgLastReview    = "last_review"
	wsMsgJump          = "jump"
)

// WebSocket message types to client.
const (
	wsMsgBranches  = "branches"
	wsMsgTree      = "tree"
	wsMsgFile      = "file"
	wsMsgDashboard = "dashboard"
	wsMsgHighlight = "highlight"
	wsMsgNotice    = "notice"
	wsMsgError     = "error"
)

// wsMessage is the envelope for WebSocket messages in both directions.
type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// wsOpenRepo is the payload for "open_repo" messages.
type wsOpenRepo struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
}

// wsSelectBranch is the payload for "select_branch" messages.
type wsSelectBranch struct {
	Branch string `json:"branch"`
}

// wsPath is the payload for load_file, review_file and last_review.
type wsPath struct {
	Path string `json:"path"`
}

// wsJump is the payload for "jump" messages. Layout is the code block
// geometry as currently rendered; when omitted the last reported one is used.
type wsJump struct {
	Start  int          `json:"start"`
	End    int          `json:"end"`
	Layout *jump.Layout `json:"layout,omitempty"`
}

// wsBranchesResponse is sent once a repository is opened.
type wsBranchesResponse struct {
	DefaultBranch string   `json:"default_branch"`
	Branches      []string `json:"branches"`
}

// wsTreeResponse is sent when a branch's tree is loaded.
type wsTreeResponse struct {
	Branch   string           `json:"branch"`
	Tree     []model.TreeNode `json:"tree"`
	Reviewed []string         `json:"reviewed"`
}

// wsFileResponse carries a highlighted file.
type wsFileResponse struct {
	Path     string `json:"path"`
	Ref      string `json:"ref"`
	Language string `json:"language"`
	Lines    int    `json:"lines"`
	HTML     string `json:"html"`
}

// wsDashboardResponse carries a review and what it covers. Path is empty for
// whole-project reviews.
type wsDashboardResponse struct {
	Path      string             `json:"path"`
	Dashboard *insight.Dashboard `json:"dashboard"`
}

// wsHighlightResponse reports the marked rows and the new scroll position.
type wsHighlightResponse struct {
	Start int `json:"start"`
	End   int `json:"end"`
	jump.State
}

// wsSession holds the state for one WebSocket connection.
type wsSession struct {
	srv  *Server
	conn *websocket.Conn
	sess model.Session
	log  zerolog.Logger

	writeMu sync.Mutex

	mu    sync.Mutex
	ctrl  *session.Controller
	loads uint64 // sequence of the newest load_file
	view  *jump.CodeView
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.auth.Lookup(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "sign in required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade")
		return
	}
	defer conn.Close()

	ws := &wsSession{
		srv:  s,
		conn: conn,
		sess: sess,
		log:  s.log.With().Str("user", sess.User).Logger(),
		view: jump.NewCodeView(jump.Layout{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.log.Warn().Err(err).Msg("websocket read")
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			ws.sendError("invalid message format")
			continue
		}

		handler, err := ws.route(msg)
		if err != nil {
			ws.sendError(err.Error())
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			handler(ctx)
		}()
	}
}

// route decodes a message and returns the work it asks for. Decoding and
// repository switches happen in read order; the work itself runs
// concurrently.
func (ws *wsSession) route(msg wsMessage) (func(context.Context), error) {
	switch msg.Type {
	case wsMsgOpenRepo:
		var req wsOpenRepo
		if err := json.Unmarshal(msg.Data, &req); err != nil || req.Owner == "" || req.Repo == "" {
			return nil, errors.New("open_repo needs owner and repo")
		}
		ctrl, err := ws.open(req)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) { ws.handleOpen(ctx, ctrl) }, nil

	case wsMsgSelectBranch:
		var req wsSelectBranch
		if err := json.Unmarshal(msg.Data, &req); err != nil || req.Branch == "" {
			return nil, errors.New("select_branch needs a branch")
		}
		ctrl, err := ws.controller()
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) { ws.handleSelectBranch(ctx, ctrl, req.Branch) }, nil

	case wsMsgLoadFile, wsMsgReviewFile, wsMsgLastReview:
		var req wsPath
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				return nil, errors.New("invalid " + msg.Type + " data")
			}
		}
		req.Path = strings.TrimPrefix(req.Path, "/")
		if req.Path == "" && msg.Type != wsMsgLastReview {
			return nil, errors.New(msg.Type + " needs a path")
		}
		ctrl, err := ws.controller()
		if err != nil {
			return nil, err
		}
		switch msg.Type {
		case wsMsgLoadFile:
			load := ws.nextLoad()
			return func(ctx context.Context) { ws.handleLoadFile(ctx, ctrl, load, req.Path) }, nil
		case wsMsgReviewFile:
			return func(ctx context.Context) {
				ws.sendDashboard(ctrl, req.Path, func() (*insight.Dashboard, error) { return ctrl.ReviewFile(ctx, req.Path) })
			}, nil
		default:
			return func(ctx context.Context) {
				ws.sendDashboard(ctrl, req.Path, func() (*insight.Dashboard, error) { return ctrl.LastReview(ctx, req.Path) })
			}, nil
		}

	case wsMsgReviewProject:
		ctrl, err := ws.controller()
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) {
			ws.sendDashboard(ctrl, "", func() (*insight.Dashboard, error) { return ctrl.ReviewProject(ctx) })
		}, nil

	case wsMsgJump:
		var req wsJump
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return nil, errors.New("invalid jump data")
		}
		return func(context.Context) { ws.handleJump(req) }, nil

	default:
		return nil, errors.New("unknown message type: " + msg.Type)
	}
}

func (ws *wsSession) open(req wsOpenRepo) (*session.Controller, error) {
	host, err := githost.New(context.Background(), ws.sess, ws.srv.hosts)
	if err != nil {
		return nil, err
	}
	ctrl := session.New(ws.sess, host, ws.srv.reviews, req.Owner, req.Repo, ws.srv.sessionOptions())

	ws.mu.Lock()
	ws.ctrl = ctrl
	ws.view.SetLayout(jump.Layout{})
	ws.mu.Unlock()
	return ctrl, nil
}

func (ws *wsSession) controller() (*session.Controller, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.ctrl == nil {
		return nil, errors.New("no repository open")
	}
	return ws.ctrl, nil
}

func (ws *wsSession) nextLoad() uint64 {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.loads++
	return ws.loads
}

// deliver runs send unless ctrl has been replaced by a later open_repo or,
// for a non-zero load, a later load_file was received. mu is held while
// sending so a replaced repository's results never follow the new one's.
func (ws *wsSession) deliver(ctrl *session.Controller, load uint64, send func()) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.ctrl != ctrl {
		ws.log.Debug().Msg("dropping result for replaced repository")
		return
	}
	if load != 0 && load != ws.loads {
		ws.log.Debug().Uint64("load", load).Msg("dropping superseded file load")
		return
	}
	send()
}

func (ws *wsSession) handleOpen(ctx context.Context, ctrl *session.Controller) {
	snap, err := ctrl.Open(ctx)
	stale := errors.Is(err, session.ErrStale)
	if err != nil && !stale {
		ws.deliver(ctrl, 0, func() { ws.sendFailure(err) })
		return
	}
	if stale {
		// A select_branch overtook the default branch; its own reply
		// carries the tree.
		snap = ctrl.Snapshot()
	}
	ws.deliver(ctrl, 0, func() {
		ws.send(wsMsgBranches, wsBranchesResponse{
			DefaultBranch: snap.DefaultBranch,
			Branches:      nonNil(snap.Branches),
		})
		if !stale && snap.Branch != "" {
			ws.send(wsMsgTree, wsTreeResponse{
				Branch:   snap.Branch,
				Tree:     nonNil(snap.Tree),
				Reviewed: snap.Reviewed,
			})
		}
	})
}

func (ws *wsSession) handleSelectBranch(ctx context.Context, ctrl *session.Controller, branch string) {
	tree, err := ctrl.SelectBranch(ctx, branch)
	if err != nil {
		ws.deliver(ctrl, 0, func() { ws.sendFailure(err) })
		return
	}
	reviewed := ctrl.Snapshot().Reviewed
	ws.deliver(ctrl, 0, func() {
		ws.send(wsMsgTree, wsTreeResponse{Branch: branch, Tree: nonNil(tree), Reviewed: reviewed})
	})
}

func (ws *wsSession) handleLoadFile(ctx context.Context, ctrl *session.Controller, load uint64, path string) {
	f, err := ctrl.OpenFile(ctx, path)
	if err != nil {
		ws.deliver(ctrl, load, func() { ws.sendFailure(err) })
		return
	}
	out, err := highlight.HTML(f.Path, f.Content, highlight.Options{Style: ws.srv.cfg.Display.Style})
	if err != nil {
		ws.deliver(ctrl, load, func() { ws.sendError(err.Error()) })
		return
	}

	lines := highlight.LineCount(f.Content)
	ws.deliver(ctrl, load, func() {
		ws.view.SetLayout(jump.Layout{Lines: lines})
		ws.send(wsMsgFile, wsFileResponse{
			Path:     f.Path,
			Ref:      f.Ref,
			Language: f.Language,
			Lines:    lines,
			HTML:     out,
		})
	})
}

func (ws *wsSession) handleJump(req wsJump) {
	if req.Layout != nil {
		ws.view.SetLayout(*req.Layout)
	}
	start, end := jump.Normalize(req.Start, req.End)
	jump.JumpToRange(ws.view, start, end)
	ws.send(wsMsgHighlight, wsHighlightResponse{Start: start, End: end, State: ws.view.State()})
}

func (ws *wsSession) sendDashboard(ctrl *session.Controller, path string, fetch func() (*insight.Dashboard, error)) {
	d, err := fetch()
	ws.deliver(ctrl, 0, func() {
		if err != nil {
			ws.sendFailure(err)
			return
		}
		ws.send(wsMsgDashboard, wsDashboardResponse{Path: path, Dashboard: d})
	})
}

// sendFailure reports err to the client. Results for a superseded branch
// selection are dropped silently.
func (ws *wsSession) sendFailure(err error) {
	switch {
	case errors.Is(err, session.ErrStale), errors.Is(err, context.Canceled):
		ws.log.Debug().Err(err).Msg("dropping result")
	case errors.Is(err, reviewapi.ErrNoStoredReview):
		ws.send(wsMsgNotice, map[string]string{"message": noStoredReview})
	default:
		ws.log.Warn().Err(err).Msg("websocket request failed")
		ws.sendError(err.Error())
	}
}

func (ws *wsSession) send(msgType string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		ws.log.Error().Err(err).Msg("ws marshal")
		return
	}

	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	if err := ws.conn.WriteJSON(wsMessage{Type: msgType, Data: raw}); err != nil {
		ws.log.Debug().Err(err).Msg("ws write")
	}
}

func (ws *wsSession) sendError(errMsg string) {
	ws.send(wsMsgError, map[string]string{"message": errMsg})
}
