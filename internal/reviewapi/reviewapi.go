// Package reviewapi is the client for the external AI review backend. It
// triggers reviews, reads stored reviews and normalizes every response into
// a model.AnalysisResponse.
package reviewapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sprite-ai/repolens/internal/model"
)

var (
	// ErrBackend wraps every non-success answer from the backend.
	ErrBackend = errors.New("review backend error")
	// ErrNoStoredReview means no review has been stored for the target yet.
	ErrNoStoredReview = errors.New("no stored review exists")
	// ErrNotConfigured means the backend location needed for a call is unset.
	ErrNotConfigured = errors.New("review backend not configured")
)

// LocalProjectLabel names guest upload reviews on dashboards.
const LocalProjectLabel = "Local Files"

// Action selects what a review covers.
type Action string

const (
	ActionFile Action = "file"
	ActionFull Action = "full"
)

// Options configures a Client.
type Options struct {
	BaseURL       string
	WebhookURL    string
	Timeout       time.Duration
	RatePerMinute int
	Burst         int
	HTTPClient    *http.Client
	Logger        zerolog.Logger
}

// Client talks to the review backend.
type Client struct {
	baseURL    string
	webhookURL string
	http       *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
	now        func() time.Time
}

// New returns a Client. Review POSTs are throttled by a token bucket when
// RatePerMinute is positive.
func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RatePerMinute > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(float64(opts.RatePerMinute)/60), burst)
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		webhookURL: opts.WebhookURL,
		http:       hc,
		limiter:    limiter,
		log:        opts.Logger,
		now:        time.Now,
	}
}

// Request triggers a review of one file or a whole repository.
type Request struct {
	Provider    model.Provider
	AccessToken string
	Action      Action
	Owner       string
	Repo        string
	Ref         string
	Filename    string // repository path; required for ActionFile
}

type reviewPayload struct {
	Provider    model.Provider `json:"provider"`
	AccessToken string         `json:"accessToken"`
	Action      Action         `json:"action"`
	Owner       string         `json:"owner"`
	Repo        string         `json:"repo"`
	Ref         string         `json:"ref"`
	Filename    string         `json:"filename,omitempty"`
}

// Review asks the backend to review a file or project and returns the
// normalized result.
func (c *Client) Review(ctx context.Context, req Request) (*model.AnalysisResponse, error) {
	if c.webhookURL == "" {
		return nil, fmt.Errorf("review: %w: webhook url", ErrNotConfigured)
	}
	if req.Action == ActionFile && req.Filename == "" {
		return nil, fmt.Errorf("review: file review needs a filename")
	}

	payload := reviewPayload{
		Provider:    req.Provider,
		AccessToken: req.AccessToken,
		Action:      req.Action,
		Owner:       req.Owner,
		Repo:        req.Repo,
		Ref:         req.Ref,
	}
	if req.Action == ActionFile {
		payload.Filename = withSlash(req.Filename)
	}

	c.log.Debug().
		Str("action", string(req.Action)).
		Str("project", projectLabel(req.Owner, req.Repo, req.Ref)).
		Str("filename", payload.Filename).
		Msg("requesting review")

	var wire reviewWire
	if err := c.post(ctx, c.webhookURL, payload, &wire); err != nil {
		return nil, fmt.Errorf("review: %w", err)
	}

	resp := wire.normalize()
	if resp.Project == "" {
		resp.Project = projectLabel(req.Owner, req.Repo, req.Ref)
	}
	resp.CreatedAt = c.now()
	return resp, nil
}

// Key identifies a stored review. Repository reviews are keyed by
// owner/repo@ref, local reviews by owner and project id.
type Key struct {
	Provider  model.Provider
	Owner     string
	Repo      string
	Ref       string
	ProjectID string // set for local reviews
	Filename  string // empty selects the whole-project review
}

// Local reports whether the key addresses a guest upload project.
func (k Key) Local() bool { return k.ProjectID != "" }

// Project returns the backend's project identifier.
func (k Key) Project() string {
	if k.Local() {
		return fmt.Sprintf("local:%s:%s", k.Owner, k.ProjectID)
	}
	return projectLabel(k.Owner, k.Repo, k.Ref)
}

// query carries both the project label and its parts, since backends key
// stored reviews by either.
func (k Key) query() url.Values {
	q := url.Values{"project": {k.Project()}}
	if k.Local() {
		return q
	}
	if k.Provider != "" {
		q.Set("provider", string(k.Provider))
	}
	q.Set("owner", k.Owner)
	q.Set("repo", k.Repo)
	q.Set("ref", k.Ref)
	return q
}

func (k Key) filename() string {
	if k.Local() {
		return k.Filename
	}
	return withSlash(k.Filename)
}

// LastReview returns the stored review for a file, or for the whole project
// when key.Filename is empty. ErrNoStoredReview is returned when none exists.
func (c *Client) LastReview(ctx context.Context, key Key) (*model.AnalysisResponse, error) {
	q := key.query()
	path := "/reviews/full/last"
	if key.Filename != "" {
		path = "/reviews/last"
		q.Set("filename", key.filename())
	}

	var wire lastReviewWire
	err := c.get(ctx, path, q, &wire)
	if errors.Is(err, errNotFound) {
		return nil, ErrNoStoredReview
	}
	if err != nil {
		return nil, fmt.Errorf("last review: %w", err)
	}
	if !wire.Exists {
		return nil, ErrNoStoredReview
	}

	project := key.Project()
	if key.Local() {
		project = LocalProjectLabel
	}
	resp := &model.AnalysisResponse{
		Project:          project,
		CreatedAt:        parseTime(wire.CreatedAt),
		OverallFileScore: score(wire.FileScore),
		Metrics:          wire.Metrics.normalize(),
		TopIssues:        wire.Issues,
	}
	if resp.TopIssues == nil {
		resp.TopIssues = []model.Issue{}
	}
	return resp, nil
}

// LastLocalReview is LastReview for a guest upload project.
func (c *Client) LastLocalReview(ctx context.Context, owner, projectID, filename string) (*model.AnalysisResponse, error) {
	return c.LastReview(ctx, Key{Owner: owner, ProjectID: projectID, Filename: filename})
}

// ReviewedFiles lists files with a stored review. A malformed listing
// degrades to an empty one. Leading slashes are stripped so names compare
// equal to tree paths.
func (c *Client) ReviewedFiles(ctx context.Context, key Key) ([]model.ReviewedFile, error) {
	var wire struct {
		Files json.RawMessage `json:"files"`
	}
	if err := c.get(ctx, "/reviews/files", key.query(), &wire); err != nil {
		return nil, fmt.Errorf("reviewed files: %w", err)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(wire.Files, &items); err != nil {
		c.log.Warn().Str("project", key.Project()).Msg("reviewed files listing is not an array")
		return []model.ReviewedFile{}, nil
	}

	files := make([]model.ReviewedFile, 0, len(items))
	for _, raw := range items {
		var f model.ReviewedFile
		var name string
		if err := json.Unmarshal(raw, &name); err == nil {
			f.Filename = name
		} else if err := json.Unmarshal(raw, &f); err != nil {
			continue
		}
		f.Filename = strings.TrimPrefix(f.Filename, "/")
		if f.Filename == "" {
			continue
		}
		files = append(files, f)
	}
	return files, nil
}

// LocalReviewedFiles is ReviewedFiles for a guest upload project.
func (c *Client) LocalReviewedFiles(ctx context.Context, owner, projectID string) ([]model.ReviewedFile, error) {
	return c.ReviewedFiles(ctx, Key{Owner: owner, ProjectID: projectID})
}

// LocalFile is one uploaded file sent for a guest review.
type LocalFile struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Content  string `json:"content"`
}

// LocalRequest reviews uploaded files without a git host.
type LocalRequest struct {
	Owner     string
	ProjectID string
	Files     []LocalFile
}

type localPayload struct {
	Action         Action      `json:"action"`
	Mode           string      `json:"mode"`
	Owner          string      `json:"owner"`
	LocalProjectID string      `json:"localProjectId"`
	Files          []LocalFile `json:"files"`
}

// ReviewLocal reviews uploaded files. The backend answers with either a
// single review or an array whose first element is used.
func (c *Client) ReviewLocal(ctx context.Context, req LocalRequest) (*model.AnalysisResponse, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("local review: %w: base url", ErrNotConfigured)
	}
	if len(req.Files) == 0 || req.Owner == "" || req.ProjectID == "" {
		return nil, fmt.Errorf("local review: missing files or project context")
	}

	payload := localPayload{
		Action:         ActionFile,
		Mode:           "local",
		Owner:          req.Owner,
		LocalProjectID: req.ProjectID,
		Files:          req.Files,
	}

	var raw json.RawMessage
	if err := c.post(ctx, c.baseURL+"/review", payload, &raw); err != nil {
		return nil, fmt.Errorf("local review: %w", err)
	}

	var wire reviewWire
	var list []reviewWire
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return nil, fmt.Errorf("local review: %w: empty response", ErrBackend)
		}
		wire = list[0]
	} else if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("local review: decode response: %w", err)
	}

	resp := wire.normalize()
	resp.Project = LocalProjectLabel
	resp.CreatedAt = c.now()
	return resp, nil
}

var errNotFound = errors.New("not found")

func (c *Client) post(ctx context.Context, target string, payload, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, &buf)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("%w: base url", ErrNotConfigured)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBackend, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %w", ErrBackend, err)
	}

	c.log.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("review backend call")

	if resp.StatusCode == http.StatusNotFound && req.Method == http.MethodGet {
		return errNotFound
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d%s", ErrBackend, resp.StatusCode, detail(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrBackend, err)
	}
	return nil
}

// detail extracts the backend's error message from a failure body.
func detail(body []byte) string {
	var e struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(body, &e) != nil || len(e.Detail) == 0 {
		return ""
	}
	var msg string
	if json.Unmarshal(e.Detail, &msg) == nil {
		return ": " + msg
	}
	return ": " + string(e.Detail)
}

type metricsWire struct {
	TestCoverageEstimate *float64 `json:"testCoverageEstimate"`
	DocumentationScore   *float64 `json:"documentationScore"`
	Readability          *float64 `json:"readability"`
}

func (m *metricsWire) normalize() model.Metrics {
	if m == nil {
		return model.Metrics{}
	}
	return model.Metrics{
		TestCoverageEstimate: score(m.TestCoverageEstimate),
		DocumentationScore:   score(m.DocumentationScore),
		Readability:          score(m.Readability),
	}
}

type reviewWire struct {
	Project             string   `json:"project"`
	OverallProjectScore *float64 `json:"overallProjectScore"`
	File                *struct {
		OverallFileScore *float64     `json:"overallFileScore"`
		Metrics          *metricsWire `json:"metrics"`
	} `json:"file"`
	TopIssues []model.Issue `json:"topIssues"`
}

// normalize applies the backend defaults: the file score falls back to the
// project score and then 0, metrics default to 0 and issues to empty.
func (w reviewWire) normalize() *model.AnalysisResponse {
	resp := &model.AnalysisResponse{
		Project:   w.Project,
		TopIssues: w.TopIssues,
	}
	overall := w.OverallProjectScore
	if w.File != nil {
		if w.File.OverallFileScore != nil {
			overall = w.File.OverallFileScore
		}
		resp.Metrics = w.File.Metrics.normalize()
	}
	resp.OverallFileScore = score(overall)
	if resp.TopIssues == nil {
		resp.TopIssues = []model.Issue{}
	}
	return resp
}

type lastReviewWire struct {
	Exists    bool          `json:"exists"`
	CreatedAt string        `json:"createdAt"`
	FileScore *float64      `json:"fileScore"`
	Metrics   *metricsWire  `json:"metrics"`
	Issues    []model.Issue `json:"issues"`
}

// timeLayouts covers RFC 3339 and the zone-less ISO form some backends emit.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// parseTime returns the zero time for values it cannot read. Zone-less
// values are taken as UTC.
func parseTime(s string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func score(v *float64) int {
	if v == nil {
		return 0
	}
	return int(math.Round(*v))
}

func projectLabel(owner, repo, ref string) string {
	return fmt.Sprintf("%s/%s@%s", owner, repo, ref)
}

func withSlash(p string) string {
	if p == "" || strings.HasPrefix(p, "/") {
		return p
	}
	return "/" + p
}
