// Package preview relays the camera's RTSP video to panel clients over
// WebRTC.
package preview

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

const subscriberBuffer = 500

// Relay handles the RTSP connection and fans RTP packets out to
// subscribers.
type Relay struct {
	url    string
	log    *slog.Logger
	stopCh chan struct{}

	mu       sync.Mutex
	client   *gortsplib.Client
	mimeType string
	subs     map[int]chan []byte
	nextID   int
	stopped  bool
}

// NewRelay creates a relay for rtspURL without connecting.
func NewRelay(rtspURL string, log *slog.Logger) (*Relay, error) {
	if _, err := base.ParseURL(rtspURL); err != nil {
		return nil, fmt.Errorf("failed to parse RTSP URL: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		url:    rtspURL,
		log:    log,
		stopCh: make(chan struct{}),
		subs:   make(map[int]chan []byte),
	}, nil
}

// Connect establishes the RTSP connection and starts streaming.
func (r *Relay) Connect() error {
	return r.connect()
}

// pickVideo chooses the media to play. Codecs browsers decode natively win;
// otherwise there is nothing to relay.
func pickVideo(desc *description.Session) (*description.Media, format.Format, string, bool) {
	for _, media := range desc.Medias {
		if media.Type != description.MediaTypeVideo {
			continue
		}
		for _, f := range media.Formats {
			if mime, ok := MimeType(f); ok {
				return media, f, mime, true
			}
		}
	}
	return nil, nil, "", false
}

// MimeType maps an RTSP format to the WebRTC codec that carries it.
func MimeType(f format.Format) (string, bool) {
	switch f.(type) {
	case *format.H264:
		return webrtc.MimeTypeH264, true
	case *format.VP8:
		return webrtc.MimeTypeVP8, true
	case *format.VP9:
		return webrtc.MimeTypeVP9, true
	}
	return "", false
}

func (r *Relay) connect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	client := &gortsplib.Client{
		// Use TCP transport (interleaved)
		Transport: func() *gortsplib.Transport {
			t := gortsplib.TransportTCP
			return &t
		}(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		OnDecodeError: func(err error) {
			r.log.Warn("rtsp: decode error", "error", err)
		},
	}

	u, err := base.ParseURL(r.url)
	if err != nil {
		return err
	}
	if err := client.Start(u.Scheme, u.Host); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	desc, _, err := client.Describe(u)
	if err != nil {
		client.Close()
		return fmt.Errorf("failed to describe stream: %w", err)
	}

	media, _, mime, ok := pickVideo(desc)
	if !ok {
		client.Close()
		return fmt.Errorf("stream has no H264, VP8 or VP9 video")
	}

	if _, err := client.Setup(desc.BaseURL, media, 0, 0); err != nil {
		client.Close()
		return fmt.Errorf("failed to set up video: %w", err)
	}

	client.OnPacketRTPAny(func(_ *description.Media, _ format.Format, pkt *rtp.Packet) {
		buf, err := pkt.Marshal()
		if err != nil {
			return
		}
		r.publish(buf)
	})

	if _, err := client.Play(nil); err != nil {
		client.Close()
		return fmt.Errorf("failed to play: %w", err)
	}

	r.client = client
	r.mimeType = mime
	r.log.Info("rtsp: connected and playing", "codec", mime)

	go r.monitorConnection(client)
	return nil
}

// publish copies pkt to every subscriber, dropping it for full ones.
func (r *Relay) publish(pkt []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	for _, ch := range r.subs {
		packet := make([]byte, len(pkt))
		copy(packet, pkt)
		select {
		case ch <- packet:
		default:
		}
	}
}

// monitorConnection watches for disconnection and reconnects
func (r *Relay) monitorConnection(client *gortsplib.Client) {
	err := client.Wait()

	select {
	case <-r.stopCh:
		return
	default:
	}

	if err != nil {
		r.log.Warn("rtsp: connection lost", "error", err)
	}

	// Reconnect with exponential backoff
	for attempt := 1; ; attempt++ {
		delay := min(time.Duration(1<<uint(min(attempt-1, 5)))*time.Second, 30*time.Second)
		r.log.Info("rtsp: reconnecting", "attempt", attempt, "delay", delay)

		select {
		case <-r.stopCh:
			return
		case <-time.After(delay):
		}

		if err := r.connect(); err != nil {
			r.log.Warn("rtsp: reconnect failed", "error", err)
			continue
		}
		r.log.Info("rtsp: reconnected")
		return
	}
}

// MimeType returns the codec of the playing stream, or H264 before the
// first connect.
func (r *Relay) MimeType() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mimeType == "" {
		return webrtc.MimeTypeH264
	}
	return r.mimeType
}

// Subscribe returns a packet channel and a function that releases it. The
// channel is closed on release or when the relay closes.
func (r *Relay) Subscribe() (<-chan []byte, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan []byte, subscriberBuffer)
	if r.stopped {
		close(ch)
		return ch, func() {}
	}
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if c, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(c)
		}
	}
}

// Close closes the RTSP connection and every subscriber channel.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	client := r.client
	for id, ch := range r.subs {
		delete(r.subs, id)
		close(ch)
	}
	r.mu.Unlock()

	close(r.stopCh)
	if client != nil {
		client.Close()
	}
	return nil
}
