package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDispatchesOnScheme(t *testing.T) {
	httpTr, err := New("http://tracker.example.com:6969/announce")
	assert.NoError(t, err)
	assert.IsType(t, &httpTracker{}, httpTr)

	httpsTr, err := New("https://tracker.example.com/announce")
	assert.NoError(t, err)
	assert.IsType(t, &httpTracker{}, httpsTr)

	udpTr, err := New("udp://tracker.example.com:80/announce")
	assert.NoError(t, err)
	assert.IsType(t, &udpTracker{}, udpTr)

	_, err = New("ftp://tracker.example.com/announce")
	assert.ErrorIs(t, err, ErrTrackerUnreachable)
}

func TestEventFromParams(t *testing.T) {
	assert.EqualValues(t, 0, eventFromParams(EventNone))
	assert.EqualValues(t, 1, eventFromParams(EventCompleted))
	assert.EqualValues(t, 2, eventFromParams(EventStarted))
	assert.EqualValues(t, 3, eventFromParams(EventStopped))
}
