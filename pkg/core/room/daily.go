package room

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/numera-ai/voicecore/pkg/core"
	"github.com/numera-ai/voicecore/pkg/core/types"
)

const defaultDailyBaseURL = "https://api.daily.co/v1"

// DailyConfig configures the Daily room provider.
type DailyConfig struct {
	APIKey          string
	BaseURL         string        // defaults to the public Daily API
	RoomTTL         time.Duration // room expiry, default 2h
	TokenTTL        time.Duration // participant token expiry, default RoomTTL
	MaxParticipants int           // room participant cap, default 2
	RequestTimeout  time.Duration // per-call timeout, default 10s
	MaxRetries      uint64        // transient-failure retries per call, default 2
	RetryBackoff    time.Duration // base backoff between retries, default 250ms
	RoomNamePrefix  string        // default "voice"
}

// DailyProvider implements Provider against the Daily REST API.
type DailyProvider struct {
	cfg        DailyConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDaily creates a Daily-backed room provider.
func NewDaily(cfg DailyConfig, logger *slog.Logger) *DailyProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultDailyBaseURL
	}
	if cfg.RoomTTL <= 0 {
		cfg.RoomTTL = 2 * time.Hour
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = cfg.RoomTTL
	}
	if cfg.MaxParticipants <= 0 {
		cfg.MaxParticipants = 2
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 250 * time.Millisecond
	}
	if cfg.RoomNamePrefix == "" {
		cfg.RoomNamePrefix = "voice"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DailyProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		logger:     logger,
	}
}

type dailyRoomRequest struct {
	Name       string              `json:"name"`
	Properties dailyRoomProperties `json:"properties"`
}

type dailyRoomProperties struct {
	Exp               int64 `json:"exp"`
	MaxParticipants   int   `json:"max_participants,omitempty"`
	EnableChat        bool  `json:"enable_chat"`
	EnableScreenshare bool  `json:"enable_screenshare"`
}

type dailyRoomResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

type dailyTokenRequest struct {
	Properties dailyTokenProperties `json:"properties"`
}

type dailyTokenProperties struct {
	RoomName string `json:"room_name"`
	Exp      int64  `json:"exp,omitempty"`
}

type dailyTokenResponse struct {
	Token string `json:"token"`
}

// CreateRoom provisions a voice-only room with a bounded expiry and issues a
// participant token scoped to it. If the token call fails after the room was
// created, the room is deleted best-effort before the error is returned.
func (p *DailyProvider) CreateRoom(ctx context.Context, sessionID string) (*types.RoomHandle, error) {
	name := fmt.Sprintf("%s-%s", p.cfg.RoomNamePrefix, sessionID)
	expiresAt := time.Now().Add(p.cfg.RoomTTL)

	reqBody := dailyRoomRequest{
		Name: name,
		Properties: dailyRoomProperties{
			Exp:               expiresAt.Unix(),
			MaxParticipants:   p.cfg.MaxParticipants,
			EnableChat:        false,
			EnableScreenshare: false,
		},
	}

	var roomResp dailyRoomResponse
	if err := p.doJSON(ctx, http.MethodPost, "/rooms", reqBody, &roomResp); err != nil {
		return nil, core.NewRoomCreationFailed(sessionID, fmt.Errorf("create room %q: %w", name, err))
	}

	var tokenResp dailyTokenResponse
	tokenErr := p.doJSON(ctx, http.MethodPost, "/meeting-tokens", dailyTokenRequest{
		Properties: dailyTokenProperties{
			RoomName: roomResp.Name,
			Exp:      time.Now().Add(p.cfg.TokenTTL).Unix(),
		},
	}, &tokenResp)
	if tokenErr != nil {
		// Room without a token is unusable; compensate so the session does
		// not leak a live room until the provider TTL.
		p.logger.Warn("meeting token failed, deleting orphaned room",
			"session_id", sessionID, "room", roomResp.Name, "error", tokenErr)
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.RequestTimeout)
		defer cancel()
		if delErr := p.deleteByName(cleanupCtx, roomResp.Name); delErr != nil {
			p.logger.Warn("orphaned room cleanup failed, relying on provider TTL",
				"session_id", sessionID, "room", roomResp.Name, "error", delErr)
		}
		return nil, core.NewRoomCreationFailed(sessionID, fmt.Errorf("meeting token for %q: %w", name, tokenErr))
	}

	return &types.RoomHandle{
		RoomID:      roomResp.ID,
		Name:        roomResp.Name,
		JoinURL:     roomResp.URL,
		AccessToken: tokenResp.Token,
		ExpiresAt:   expiresAt,
	}, nil
}

// DeleteRoom deletes the room. A 404 means the room already expired or was
// deleted and counts as success.
func (p *DailyProvider) DeleteRoom(ctx context.Context, handle *types.RoomHandle) error {
	if handle == nil || handle.Name == "" {
		return nil
	}
	if err := p.deleteByName(ctx, handle.Name); err != nil {
		return core.NewRoomDeletionFailed("", fmt.Errorf("delete room %q: %w", handle.Name, err))
	}
	return nil
}

func (p *DailyProvider) deleteByName(ctx context.Context, name string) error {
	return p.withRetry(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.cfg.BaseURL+"/rooms/"+name, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil // already gone
		case resp.StatusCode >= 500:
			return retry.RetryableError(httpError(resp))
		case resp.StatusCode >= 400:
			return httpError(resp)
		}
		return nil
	})
}

func (p *DailyProvider) doJSON(ctx context.Context, method, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	return p.withRetry(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return retry.RetryableError(httpError(resp))
		}
		if resp.StatusCode >= 400 {
			return httpError(resp)
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	})
}

func (p *DailyProvider) withRetry(ctx context.Context, fn func(context.Context) error) error {
	backoff := retry.WithMaxRetries(p.cfg.MaxRetries, retry.NewExponential(p.cfg.RetryBackoff))
	return retry.Do(ctx, backoff, fn)
}

func httpError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if len(body) == 0 {
		return fmt.Errorf("provider status %d", resp.StatusCode)
	}
	return fmt.Errorf("provider status %d: %s", resp.StatusCode, string(body))
}
