package sensor

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/autosupper/autosupper/internal/event"
	"github.com/autosupper/autosupper/internal/mission"
	"github.com/autosupper/autosupper/internal/packet"
)

const DefaultPostIDHeader = "devvit-post"

// Exchange is a completed request/response pair copied out of the page. The
// sensor only ever sees copies; the page's own request always completes.
type Exchange struct {
	URL            string
	RequestHeaders http.Header
	Status         int
	ContentType    string
	Body           []byte
}

type NetworkSensor struct {
	logger       *slog.Logger
	endpoint     string
	postIDHeader string
	emit         func(event.MissionDataEvent)
	wg           sync.WaitGroup
}

// NewNetworkSensor taps responses whose URL ends with endpoint. emit receives
// one MISSION_DATA event per successfully decoded payload.
func NewNetworkSensor(logger *slog.Logger, endpoint, postIDHeader string, emit func(event.MissionDataEvent)) *NetworkSensor {
	if postIDHeader == "" {
		postIDHeader = DefaultPostIDHeader
	}
	return &NetworkSensor{
		logger:       logger,
		endpoint:     endpoint,
		postIDHeader: postIDHeader,
		emit:         emit,
	}
}

// Matches reports whether a response is worth copying at all.
func (s *NetworkSensor) Matches(url, contentType string) bool {
	if !packet.IsGRPCWeb(contentType) {
		return false
	}
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	return strings.HasSuffix(url, s.endpoint)
}

// Tap decodes ex in the background and never reports back to the caller.
func (s *NetworkSensor) Tap(ex Exchange) {
	if !s.Matches(ex.URL, ex.ContentType) {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("recovered from panic decoding mission payload", slog.Any("panic", r), slog.String("url", ex.URL))
			}
		}()

		rec, err := s.Decode(ex)
		if err != nil {
			s.logger.Debug("dropping mission payload", slog.String("url", ex.URL), slog.Any("error", err))
			return
		}
		s.emit(event.MissionData(event.Text("network", "mission metadata decoded"), rec))
	}()
}

// Decode turns an exchange into a complete record or an error. The post id is
// taken from the request header first, the payload second.
func (s *NetworkSensor) Decode(ex Exchange) (mission.Record, error) {
	if ex.Status != 0 && ex.Status != http.StatusOK {
		return mission.Record{}, fmt.Errorf("unexpected status %d", ex.Status)
	}
	msg, err := packet.Message(ex.ContentType, ex.Body)
	if err != nil {
		return mission.Record{}, err
	}
	rec, err := packet.DecodeMission(msg)
	if err != nil {
		return mission.Record{}, err
	}
	if id := ex.RequestHeaders.Get(s.postIDHeader); id != "" {
		rec.PostID = id
	}
	if rec.PostID == "" {
		return mission.Record{}, fmt.Errorf("%w: no post id in header or payload", packet.ErrMalformed)
	}
	return rec, nil
}

// Wait blocks until every in-flight decode has finished.
func (s *NetworkSensor) Wait() {
	s.wg.Wait()
}
