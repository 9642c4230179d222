package simcore

import (
	"encoding/binary"

	"github.com/nethercore-systems/nethercore/internal/simtypes"
)

// beepSoundID is the single SFX id the counter guest toggles, purely to
// exercise the audio pipeline end to end; it has no musical meaning.
const beepSoundID = 1

// CounterGuest is a minimal Guest: it advances a single uint32 counter by
// the first input byte of every connected player and toggles one SFX
// channel on and off every 64 counts. It exists to drive an end-to-end
// local demonstration of NCHS + rollback + audio, not as a real game.
type CounterGuest struct {
	counter uint32
	frame   uint32
	intents AudioIntents
}

// NewCounterGuest returns a CounterGuest starting at count 0.
func NewCounterGuest() *CounterGuest {
	g := &CounterGuest{}
	g.refreshIntents()
	return g
}

func (g *CounterGuest) BeginTick(frame uint32, inputs [][]byte) {
	g.frame = frame
	for _, in := range inputs {
		if len(in) > 0 {
			g.counter += uint32(in[0])
		}
	}
}

func (g *CounterGuest) RunUpdateAndRender() {
	g.refreshIntents()
}

func (g *CounterGuest) refreshIntents() {
	soundID := uint32(0)
	if (g.counter/64)%2 == 1 {
		soundID = beepSoundID
	}
	g.intents = AudioIntents{
		Channels: []simtypes.AudioChannelState{{
			SoundID:  soundID,
			Position: uint64(g.counter % 64),
			Volume:   1,
			Pan:      0,
		}},
	}
}

func (g *CounterGuest) SaveImage() []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], g.counter)
	binary.LittleEndian.PutUint32(buf[4:8], g.frame)
	return buf
}

func (g *CounterGuest) LoadImage(image []byte) {
	if len(image) < 8 {
		return
	}
	g.counter = binary.LittleEndian.Uint32(image[0:4])
	g.frame = binary.LittleEndian.Uint32(image[4:8])
	g.refreshIntents()
}

func (g *CounterGuest) LastAudioIntents() AudioIntents { return g.intents }
func (g *CounterGuest) LastDrawList() DrawList         { return nil }

// Counter returns the guest's current count, for demo/test inspection.
func (g *CounterGuest) Counter() uint32 { return g.counter }
