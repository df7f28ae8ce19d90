package dualarm

import "sync"

// Servo channels live on a 16-channel controller.
const (
	MinChannel = 0
	MaxChannel = 15
)

// ServoState is the shared sink between the motion planner (producer) and
// the actuation pump (consumer). It tracks, per channel, the last requested
// angle and the last angle acknowledged as sent, so the pump can skip
// retransmitting an unchanged angle. All access is guarded by one mutex;
// the state is never torn down mid-process, only cleared.
type ServoState struct {
	mu      sync.Mutex
	desired map[int]float64
	sent    map[int]float64
	hasSent map[int]bool
}

func NewServoState() *ServoState {
	return &ServoState{
		desired: make(map[int]float64),
		sent:    make(map[int]float64),
		hasSent: make(map[int]bool),
	}
}

// UpdateAngle records the desired angle for a channel. Channels outside
// [MinChannel, MaxChannel] are ignored.
func (s *ServoState) UpdateAngle(channel int, angle float64) {
	if channel < MinChannel || channel > MaxChannel {
		return
	}
	s.mu.Lock()
	s.desired[channel] = angle
	s.mu.Unlock()
}

// Desired returns the last requested angle for a channel, if any.
func (s *ServoState) Desired(channel int) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	angle, ok := s.desired[channel]
	return angle, ok
}

// GetPendingUpdates returns the channels whose desired angle differs from
// the last angle marked as sent, or that have never been sent.
func (s *ServoState) GetPendingUpdates() map[int]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make(map[int]float64)
	for channel, angle := range s.desired {
		if !s.hasSent[channel] || s.sent[channel] != angle {
			pending[channel] = angle
		}
	}
	return pending
}

// MarkAsSent records that an angle was acknowledged on the wire, advancing
// the dedup watermark for the channel.
func (s *ServoState) MarkAsSent(channel int, angle float64) {
	s.mu.Lock()
	s.sent[channel] = angle
	s.hasSent[channel] = true
	s.mu.Unlock()
}

// ClearHistory forgets the sent watermarks, forcing every desired angle to
// be retransmitted on the next drain. Used after a reconnect.
func (s *ServoState) ClearHistory() {
	s.mu.Lock()
	s.sent = make(map[int]float64)
	s.hasSent = make(map[int]bool)
	s.mu.Unlock()
}
