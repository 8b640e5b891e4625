package preview

import (
	"testing"

	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickVideoPrefersRelayableCodec(t *testing.T) {
	desc := &description.Session{
		Medias: []*description.Media{
			{Type: description.MediaTypeAudio, Formats: []format.Format{&format.VP8{PayloadTyp: 98}}},
			{Type: description.MediaTypeVideo, Formats: []format.Format{&format.H265{PayloadTyp: 96}}},
			{Type: description.MediaTypeVideo, Formats: []format.Format{&format.H264{PayloadTyp: 97, PacketizationMode: 1}}},
		},
	}

	media, f, mime, ok := pickVideo(desc)
	require.True(t, ok)
	assert.Same(t, desc.Medias[2], media)
	assert.Equal(t, uint8(97), f.PayloadType())
	assert.Equal(t, webrtc.MimeTypeH264, mime)
}

func TestPickVideoNothingRelayable(t *testing.T) {
	desc := &description.Session{
		Medias: []*description.Media{
			{Type: description.MediaTypeVideo, Formats: []format.Format{&format.H265{PayloadTyp: 96}}},
		},
	}
	_, _, _, ok := pickVideo(desc)
	assert.False(t, ok)
}

func TestMimeType(t *testing.T) {
	mime, ok := MimeType(&format.VP8{PayloadTyp: 100})
	assert.True(t, ok)
	assert.Equal(t, webrtc.MimeTypeVP8, mime)

	_, ok = MimeType(&format.H265{PayloadTyp: 96})
	assert.False(t, ok)
}

func TestNewRelayValidatesURL(t *testing.T) {
	_, err := NewRelay("::not a url", nil)
	assert.Error(t, err)

	r, err := NewRelay("rtsp://10.0.0.5:554/stream1", nil)
	require.NoError(t, err)
	assert.Equal(t, webrtc.MimeTypeH264, r.MimeType())
}

func TestRelayFanout(t *testing.T) {
	r, err := NewRelay("rtsp://cam/stream", nil)
	require.NoError(t, err)

	a, releaseA := r.Subscribe()
	b, _ := r.Subscribe()

	r.publish([]byte{1, 2, 3})
	assert.Equal(t, []byte{1, 2, 3}, <-a)
	assert.Equal(t, []byte{1, 2, 3}, <-b)

	releaseA()
	_, open := <-a
	assert.False(t, open, "released channel is closed")
	releaseA()

	r.publish([]byte{4})
	assert.Equal(t, []byte{4}, <-b)

	require.NoError(t, r.Close())
	_, open = <-b
	assert.False(t, open, "close ends every subscription")

	late, _ := r.Subscribe()
	_, open = <-late
	assert.False(t, open)
}
