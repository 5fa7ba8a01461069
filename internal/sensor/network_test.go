package sensor

import (
	"net/http"
	"testing"
	"time"

	"github.com/autosupper/autosupper/internal/event"
	"github.com/autosupper/autosupper/internal/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

const endpoint = "/devvit.reddit.custom_post.v1alpha.CustomPost/RenderPostContent"

func missionPayload(postID string) []byte {
	var info []byte
	for num, v := range map[protowire.Number]uint64{1: 2, 2: 1, 3: 15, 4: 5} {
		info = protowire.AppendTag(info, num, protowire.VarintType)
		info = protowire.AppendVarint(info, v)
	}
	var msg []byte
	if postID != "" {
		msg = protowire.AppendTag(msg, 1, protowire.BytesType)
		msg = protowire.AppendString(msg, postID)
	}
	msg = protowire.AppendTag(msg, 2, protowire.BytesType)
	msg = protowire.AppendBytes(msg, info)
	return packet.Wrap(msg)
}

func TestNetworkSensorTapEmitsKeyedByHeader(t *testing.T) {
	got := make(chan event.MissionDataEvent, 1)
	s := NewNetworkSensor(discard(), endpoint, "", func(e event.MissionDataEvent) { got <- e })

	headers := http.Header{}
	headers.Set(DefaultPostIDHeader, "t3_fromheader")
	s.Tap(Exchange{
		URL:            "https://devvit-gateway.reddit.com" + endpoint + "?x=1",
		RequestHeaders: headers,
		Status:         http.StatusOK,
		ContentType:    "application/grpc-web+proto",
		Body:           missionPayload("t3_frompayload"),
	})

	select {
	case e := <-got:
		assert.Equal(t, "t3_fromheader", e.PostID)
		assert.Equal(t, 2, e.Difficulty)
		require.NotNil(t, e.MinLevel)
		assert.Equal(t, 1, *e.MinLevel)
		assert.Equal(t, 15, *e.MaxLevel)
		assert.Equal(t, "desert", e.Environment)
	case <-time.After(2 * time.Second):
		t.Fatal("no MISSION_DATA emitted")
	}
}

func TestNetworkSensorDropsBadPayloads(t *testing.T) {
	var emitted int
	s := NewNetworkSensor(discard(), endpoint, "", func(event.MissionDataEvent) { emitted++ })

	for _, ex := range []Exchange{
		{URL: "https://x" + endpoint, ContentType: "application/grpc-web+proto", Body: []byte{0, 0, 0, 0, 9, 1}},
		{URL: "https://x" + endpoint, ContentType: "application/grpc-web+proto", Body: missionPayload("")},
		{URL: "https://x" + endpoint, ContentType: "application/json", Body: missionPayload("t3_a")},
		{URL: "https://x/other", ContentType: "application/grpc-web+proto", Body: missionPayload("t3_a")},
		{URL: "https://x" + endpoint, Status: http.StatusInternalServerError, ContentType: "application/grpc-web+proto", Body: missionPayload("t3_a")},
	} {
		s.Tap(ex)
	}
	s.Wait()
	assert.Equal(t, 0, emitted)
}

func TestNetworkSensorRecoversFromPanickingEmitter(t *testing.T) {
	s := NewNetworkSensor(discard(), endpoint, "", func(event.MissionDataEvent) { panic("boom") })
	assert.NotPanics(t, func() {
		s.Tap(Exchange{URL: "https://x" + endpoint, ContentType: "application/grpc-web", Body: missionPayload("t3_a")})
		s.Wait()
	})
}
