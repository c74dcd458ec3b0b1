package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const elevenLabsWSBase = "wss://api.elevenlabs.io/v1/text-to-speech/{voice_id}/stream-input"

// ElevenLabsProvider implements Provider over the stream-input WebSocket.
type ElevenLabsProvider struct {
	apiKey    string
	wsBaseURL string
}

func NewElevenLabs(apiKey string) *ElevenLabsProvider {
	return &ElevenLabsProvider{
		apiKey:    strings.TrimSpace(apiKey),
		wsBaseURL: elevenLabsWSBase,
	}
}

// WithWSBaseURL overrides the WebSocket endpoint; the {voice_id} placeholder
// is substituted at dial time.
func (e *ElevenLabsProvider) WithWSBaseURL(base string) *ElevenLabsProvider {
	if base = strings.TrimSpace(base); base != "" {
		e.wsBaseURL = base
	}
	return e
}

func (e *ElevenLabsProvider) Name() string {
	return "elevenlabs"
}

func (e *ElevenLabsProvider) NewStreamingContext(ctx context.Context, opts ContextOptions) (*StreamingContext, error) {
	if e.apiKey == "" {
		return nil, fmt.Errorf("elevenlabs api key is required")
	}
	voiceID := strings.TrimSpace(opts.Voice)
	if voiceID == "" {
		return nil, fmt.Errorf("voice id is required")
	}
	wsURL, err := buildElevenLabsWSURL(e.wsBaseURL, voiceID, opts)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("xi-api-key", e.apiKey)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs connect: %w", err)
	}

	sc := NewStreamingContext()
	stop := make(chan struct{})
	var closeOnce sync.Once
	closeConn := func() error {
		var closeErr error
		closeOnce.Do(func() {
			close(stop)
			closeErr = conn.Close()
		})
		return closeErr
	}

	// Initial space primes the session before real text arrives.
	if err := conn.WriteJSON(map[string]any{"text": " "}); err != nil {
		_ = closeConn()
		return nil, fmt.Errorf("elevenlabs handshake: %w", err)
	}

	var writeMu sync.Mutex
	sc.SendFunc = func(text string, flush bool) error {
		text = strings.TrimSpace(text)
		if text != "" {
			text += " "
		}
		payload := map[string]any{"text": text}
		if flush {
			payload["flush"] = true
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteJSON(payload)
	}
	sc.CloseFunc = closeConn

	go func() {
		defer sc.FinishAudio()
		defer sc.Close()
		for {
			select {
			case <-ctx.Done():
				sc.SetError(ctx.Err())
				return
			case <-stop:
				return
			default:
			}
			_, data, err := conn.ReadMessage()
			if err != nil {
				select {
				case <-stop:
				default:
					sc.SetError(err)
				}
				return
			}
			var msg struct {
				Audio   string `json:"audio"`
				IsFinal *bool  `json:"isFinal"`
				Error   string `json:"error"`
			}
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Error != "" {
				sc.SetError(fmt.Errorf("elevenlabs: %s", msg.Error))
				return
			}
			if msg.Audio != "" {
				audio, err := base64.StdEncoding.DecodeString(msg.Audio)
				if err == nil && len(audio) > 0 {
					if !sc.PushAudio(audio) {
						return
					}
				}
			}
			if msg.IsFinal != nil && *msg.IsFinal {
				return
			}
		}
	}()

	return sc, nil
}

func buildElevenLabsWSURL(base, voiceID string, opts ContextOptions) (string, error) {
	base = strings.ReplaceAll(base, "{voice_id}", url.PathEscape(voiceID))
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid elevenlabs ws url: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "wss"
	}

	q := u.Query()
	model := opts.Model
	if model == "" {
		model = "eleven_flash_v2_5"
	}
	q.Set("model_id", model)

	format := opts.Format
	if format == "" {
		sampleRate := opts.SampleRate
		if sampleRate == 0 {
			sampleRate = 16000
		}
		format = fmt.Sprintf("pcm_%d", sampleRate)
	}
	q.Set("output_format", format)

	if opts.Language != "" {
		q.Set("language_code", opts.Language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

var _ Provider = (*ElevenLabsProvider)(nil)
