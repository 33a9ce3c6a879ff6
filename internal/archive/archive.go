// Package archive publishes session recordings as secret GitHub gists and
// fetches them back into the recordings directory.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/google/go-github/v68/github"
	"github.com/zulandar/gavel/internal/court"
	"github.com/zulandar/gavel/internal/replay"
	"golang.org/x/oauth2"
)

// Options configures an Archive.
type Options struct {
	Token   string // GitHub token with gist scope
	BaseURL string // API base, e.g. for GitHub Enterprise; empty for github.com
	Dir     string // recordings directory
	// HTTPClient is the transport used underneath the token source.
	HTTPClient *http.Client
}

// Archive moves recordings between the local directory and gists.
type Archive struct {
	gists *github.GistsService
	http  *http.Client
	dir   string
}

// Published is the result of Publish.
type Published struct {
	GistID string
	URL    string
	Frames int
}

// New creates an Archive.
func New(ctx context.Context, opts Options) (*Archive, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("archive: recordings directory is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	if opts.Token != "" {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token}))
	}
	client := github.NewClient(hc)
	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("archive: base url: %w", err)
		}
		client.BaseURL = u
	}
	return &Archive{gists: client.Gists, http: hc, dir: opts.Dir}, nil
}

// Publish uploads the recording of sessionID as a secret gist.
func (a *Archive) Publish(ctx context.Context, sessionID string) (*Published, error) {
	path, err := replay.PathIn(a.dir, sessionID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, court.NotFoundf("no recording for session %s", sessionID)
		}
		return nil, fmt.Errorf("archive: read %s: %w", path, err)
	}
	frames, err := replay.ReadFrames(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("archive: %s is not a valid recording: %w", path, err)
	}

	name := sessionID + replay.Ext
	g, _, err := a.gists.Create(ctx, &github.Gist{
		Description: github.Ptr(fmt.Sprintf("Gavel recording %s (%d events)", sessionID, len(frames))),
		Public:      github.Ptr(false),
		Files: map[github.GistFilename]github.GistFile{
			github.GistFilename(name): {Filename: github.Ptr(name), Content: github.Ptr(string(data))},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("archive: create gist: %w", err)
	}
	return &Published{GistID: g.GetID(), URL: g.GetHTMLURL(), Frames: len(frames)}, nil
}

// Fetch downloads the recording held by gistID into the recordings
// directory and returns its session id and path.
func (a *Archive) Fetch(ctx context.Context, gistID string) (sessionID, path string, err error) {
	g, _, err := a.gists.Get(ctx, gistID)
	if err != nil {
		var ge *github.ErrorResponse
		if errors.As(err, &ge) && ge.Response != nil && ge.Response.StatusCode == http.StatusNotFound {
			return "", "", court.NotFoundf("gist %s", gistID)
		}
		return "", "", fmt.Errorf("archive: get gist %s: %w", gistID, err)
	}

	for name, f := range g.Files {
		fn := string(name)
		if !strings.HasSuffix(fn, replay.Ext) {
			continue
		}
		content := f.GetContent()
		if content == "" && f.GetRawURL() != "" {
			if content, err = a.download(ctx, f.GetRawURL()); err != nil {
				return "", "", err
			}
		}
		if _, err := replay.ReadFrames(strings.NewReader(content)); err != nil {
			return "", "", fmt.Errorf("archive: gist %s holds an invalid recording: %w", gistID, err)
		}
		sessionID = strings.TrimSuffix(fn, replay.Ext)
		if path, err = replay.PathIn(a.dir, sessionID); err != nil {
			return "", "", err
		}
		if err := os.MkdirAll(a.dir, 0o755); err != nil {
			return "", "", fmt.Errorf("archive: %w", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return "", "", fmt.Errorf("archive: write %s: %w", path, err)
		}
		return sessionID, path, nil
	}
	return "", "", court.Validationf("gist %s has no %s file", gistID, replay.Ext)
}

// download fetches a truncated gist file from its raw URL.
func (a *Archive) download(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("archive: download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("archive: download %s: status %d", rawURL, resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("archive: download %s: %w", rawURL, err)
	}
	return string(b), nil
}
