package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sprite-ai/repolens/internal/auth"
	"github.com/sprite-ai/repolens/internal/githost"
	"github.com/sprite-ai/repolens/internal/highlight"
	"github.com/sprite-ai/repolens/internal/insight"
	"github.com/sprite-ai/repolens/internal/local"
	"github.com/sprite-ai/repolens/internal/model"
	"github.com/sprite-ai/repolens/internal/report"
	"github.com/sprite-ai/repolens/internal/reviewapi"
	"github.com/sprite-ai/repolens/internal/session"
)

// guestOwner owns local reviews made without signing in.
const guestOwner = "guest"

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Auth ---

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	provider, err := model.ParseProvider(r.PathValue("provider"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	target, err := s.auth.LoginURL(w, provider)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	provider, err := model.ParseProvider(r.PathValue("provider"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	sess, err := s.auth.Exchange(r.Context(), w, r, provider)
	switch {
	case errors.Is(err, auth.ErrUnknownProvider):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, auth.ErrStateMismatch):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.log.Warn().Err(err).Str("provider", string(provider)).Msg("sign in failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	if host, err := githost.New(r.Context(), sess, s.hosts); err == nil {
		if user, err := host.User(r.Context()); err == nil {
			sess.User = user
		} else {
			s.log.Warn().Err(err).Str("provider", string(provider)).Msg("user lookup failed")
		}
	}

	s.auth.Start(w, sess)
	s.log.Info().Str("provider", string(provider)).Str("user", sess.User).Msg("signed in")
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.auth.End(w, r); ok {
		s.log.Info().Str("user", sess.User).Str("provider", string(sess.Provider)).Msg("signed out")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
}

type sessionResponse struct {
	Authenticated bool             `json:"authenticated"`
	Provider      model.Provider   `json:"provider,omitempty"`
	User          string           `json:"user,omitempty"`
	Providers     []model.Provider `json:"providers"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	resp := sessionResponse{Providers: s.auth.Providers()}
	if sess, ok := s.auth.Lookup(r); ok {
		resp.Authenticated = true
		resp.Provider = sess.Provider
		resp.User = sess.User
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Repositories ---

func (s *Server) handleRepos(w http.ResponseWriter, r *http.Request, _ model.Session, host githost.Provider) {
	repos, err := host.Repos(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if repos == nil {
		repos = []model.Repo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"repos": repos})
}

type branchesResponse struct {
	DefaultBranch string   `json:"default_branch"`
	Branches      []string `json:"branches"`
}

func (s *Server) handleBranches(w http.ResponseWriter, r *http.Request, _ model.Session, host githost.Provider) {
	owner, repo := r.PathValue("owner"), r.PathValue("repo")
	def, err := host.DefaultBranch(r.Context(), owner, repo)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	branches, err := host.Branches(r.Context(), owner, repo)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, branchesResponse{DefaultBranch: def, Branches: nonNil(branches)})
}

type treeResponse struct {
	Ref      string           `json:"ref"`
	Tree     []model.TreeNode `json:"tree"`
	Reviewed []string         `json:"reviewed"`
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request, sess model.Session, host githost.Provider) {
	ref, err := s.ref(r, host)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	c := s.controller(sess, host, r)
	tree, err := c.SelectBranch(r.Context(), ref)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if tree == nil {
		tree = []model.TreeNode{}
	}
	writeJSON(w, http.StatusOK, treeResponse{
		Ref:      ref,
		Tree:     tree,
		Reviewed: c.Snapshot().Reviewed,
	})
}

type fileResponse struct {
	Path     string `json:"path"`
	Ref      string `json:"ref"`
	Language string `json:"language"`
	Lines    int    `json:"lines"`
	Content  string `json:"content"`
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request, _ model.Session, host githost.Provider) {
	q := r.URL.Query()
	path := strings.TrimPrefix(q.Get("path"), "/")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	start, end, err := lineRange(q.Get("start"), q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ref, err := s.ref(r, host)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	content, err := host.FileContent(r.Context(), r.PathValue("owner"), r.PathValue("repo"), path, ref)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	switch q.Get("format") {
	case "html":
		out, err := highlight.HTML(path, content, highlight.Options{
			Style:          s.cfg.Display.Style,
			HighlightStart: start,
			HighlightEnd:   end,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, out)
	case "", "json":
		writeJSON(w, http.StatusOK, fileResponse{
			Path:     path,
			Ref:      ref,
			Language: highlight.Language(path),
			Lines:    highlight.LineCount(content),
			Content:  content,
		})
	default:
		writeError(w, http.StatusBadRequest, "format must be html or json")
	}
}

// --- Reviews ---

type reviewRequest struct {
	Action reviewapi.Action `json:"action"`
	Ref    string           `json:"ref"`
	Path   string           `json:"path"`
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request, sess model.Session, host githost.Provider) {
	var req reviewRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.Action == "" {
		req.Action = reviewapi.ActionFull
		if req.Path != "" {
			req.Action = reviewapi.ActionFile
		}
	}
	switch req.Action {
	case reviewapi.ActionFile:
		if req.Path == "" {
			writeError(w, http.StatusBadRequest, "path is required for a file review")
			return
		}
	case reviewapi.ActionFull:
		req.Path = ""
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown action %q", req.Action))
		return
	}

	ref := req.Ref
	if ref == "" {
		var err error
		if ref, err = host.DefaultBranch(r.Context(), r.PathValue("owner"), r.PathValue("repo")); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	resp, err := s.reviews.Review(r.Context(), reviewapi.Request{
		Provider:    sess.Provider,
		AccessToken: sess.AccessToken,
		Action:      req.Action,
		Owner:       r.PathValue("owner"),
		Repo:        r.PathValue("repo"),
		Ref:         ref,
		Filename:    req.Path,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.dashboard(resp))
}

func (s *Server) handleLastReview(w http.ResponseWriter, r *http.Request, sess model.Session, host githost.Provider) {
	var format report.Format
	switch r.URL.Query().Get("format") {
	case "", "json":
		format = report.FormatJSON
	case "html":
		format = report.FormatHTML
	default:
		writeError(w, http.StatusBadRequest, "format must be html or json")
		return
	}
	ref, err := s.ref(r, host)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp, err := s.reviews.LastReview(r.Context(), reviewapi.Key{
		Provider: sess.Provider,
		Owner:    r.PathValue("owner"),
		Repo:     r.PathValue("repo"),
		Ref:      ref,
		Filename: strings.TrimPrefix(r.URL.Query().Get("path"), "/"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeDashboard(w, format, s.dashboard(resp))
}

func (s *Server) handleReviewedFiles(w http.ResponseWriter, r *http.Request, sess model.Session, host githost.Provider) {
	ref, err := s.ref(r, host)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	files, err := s.reviews.ReviewedFiles(r.Context(), reviewapi.Key{
		Provider: sess.Provider,
		Owner:    r.PathValue("owner"),
		Repo:     r.PathValue("repo"),
		Ref:      ref,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ref": ref, "files": nonNil(files)})
}

// --- Local files ---

type localReviewResponse struct {
	ProjectID string             `json:"project_id"`
	Dashboard *insight.Dashboard `json:"dashboard"`
}

func (s *Server) handleLocalReview(w http.ResponseWriter, r *http.Request) {
	uploads, err := s.readUploads(w, r)
	if err != nil {
		if errors.Is(err, errBadUpload) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.fail(w, r, err)
		return
	}

	owner := s.owner(r)
	id := s.projects.ID(owner)
	resp, err := s.reviews.ReviewLocal(r.Context(), reviewapi.LocalRequest{
		Owner:     owner,
		ProjectID: id,
		Files:     local.Files(uploads),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.log.Info().Str("owner", owner).Int("files", len(uploads)).Msg("local review complete")
	writeJSON(w, http.StatusOK, localReviewResponse{ProjectID: id, Dashboard: s.dashboard(resp)})
}

func (s *Server) handleLocalLastReview(w http.ResponseWriter, r *http.Request) {
	owner := s.owner(r)
	resp, err := s.reviews.LastLocalReview(r.Context(), owner, s.projects.ID(owner), r.URL.Query().Get("path"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.dashboard(resp))
}

func (s *Server) handleLocalReviewedFiles(w http.ResponseWriter, r *http.Request) {
	owner := s.owner(r)
	files, err := s.reviews.LocalReviewedFiles(r.Context(), owner, s.projects.ID(owner))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": nonNil(files)})
}

// --- Helpers ---

func (s *Server) controller(sess model.Session, host githost.Provider, r *http.Request) *session.Controller {
	return session.New(sess, host, s.reviews, r.PathValue("owner"), r.PathValue("repo"), s.sessionOptions())
}

func (s *Server) sessionOptions() session.Options {
	return session.Options{
		Limit:   s.cfg.Display.InsightLimit,
		Exclude: s.cfg.Display.Exclude,
		Logger:  s.log,
	}
}

// ref returns the requested ref, or the repository's default branch.
func (s *Server) ref(r *http.Request, host githost.Provider) (string, error) {
	if ref := r.URL.Query().Get("ref"); ref != "" {
		return ref, nil
	}
	return host.DefaultBranch(r.Context(), r.PathValue("owner"), r.PathValue("repo"))
}

// owner names the local project owner: the signed-in user, else guest.
func (s *Server) owner(r *http.Request) string {
	if sess, ok := s.auth.Lookup(r); ok && sess.User != "" {
		return sess.User
	}
	return guestOwner
}

func (s *Server) dashboard(resp *model.AnalysisResponse) *insight.Dashboard {
	return insight.NewDashboard(resp, s.cfg.Display.InsightLimit)
}

func (s *Server) writeDashboard(w http.ResponseWriter, format report.Format, d *insight.Dashboard) {
	if format != report.FormatHTML {
		writeJSON(w, http.StatusOK, d)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.Write(w, report.FormatHTML, d, time.Now()); err != nil {
		s.log.Warn().Err(err).Msg("render dashboard")
	}
}

func lineRange(startRaw, endRaw string) (int, int, error) {
	if startRaw == "" {
		return 0, 0, nil
	}
	start, err := strconv.Atoi(startRaw)
	if err != nil || start < 1 {
		return 0, 0, fmt.Errorf("start must be a positive line number")
	}
	end := start
	if endRaw != "" {
		if end, err = strconv.Atoi(endRaw); err != nil {
			return 0, 0, fmt.Errorf("end must be a line number")
		}
	}
	if end < start {
		end = start
	}
	return start, end, nil
}

// errBadUpload marks a malformed multipart request.
var errBadUpload = errors.New("invalid upload")

// readUploads streams the "files" parts of a multipart form. Each file's type
// is checked before it is read and its size while reading, so a limit
// violation names the offending file. "paths" values pair with files by
// position. The count is checked last, as Validate does.
func (s *Server) readUploads(w http.ResponseWriter, r *http.Request) ([]local.Upload, error) {
	maxBody := (s.limits.MaxFileSize+1)*int64(s.limits.MaxFiles+1) + 1<<20
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadUpload, err)
	}

	var (
		uploads []local.Upload
		paths   []string
	)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, uploadError(err)
		}

		switch part.FormName() {
		case "paths":
			b, err := io.ReadAll(io.LimitReader(part, 4096))
			if err != nil {
				return nil, uploadError(err)
			}
			paths = append(paths, string(b))

		case "files":
			name := part.FileName()
			if !s.limits.Allowed(name) {
				return nil, fmt.Errorf("%w: %s", local.ErrUnsupportedType, name)
			}
			b, err := io.ReadAll(io.LimitReader(part, s.limits.MaxFileSize+1))
			if err != nil {
				return nil, uploadError(err)
			}
			if int64(len(b)) > s.limits.MaxFileSize {
				return nil, fmt.Errorf("%w: %s", local.ErrTooLarge, name)
			}
			uploads = append(uploads, local.Upload{Filename: name, Content: string(b), Size: int64(len(b))})
		}
		part.Close()
	}

	if len(uploads) == 0 {
		return nil, fmt.Errorf("%w: at least one file is required", errBadUpload)
	}
	for i := range uploads {
		if i < len(paths) {
			uploads[i].Path = paths[i]
		}
	}
	if err := s.limits.Validate(0, uploads); err != nil {
		return nil, err
	}
	return uploads, nil
}

func uploadError(err error) error {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return fmt.Errorf("%w: request exceeds %d bytes", local.ErrTooLarge, tooBig.Limit)
	}
	return fmt.Errorf("%w: %v", errBadUpload, err)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
