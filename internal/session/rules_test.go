package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tariel-x/callrelay/internal/models"
)

func TestIsOfferer(t *testing.T) {
	tests := []struct {
		name string
		kind models.Kind
		self uint64
		peer uint64
		want bool
	}{
		{name: "call initiator offers", kind: models.KindCall, self: 1, peer: 2, want: true},
		{name: "call callee answers", kind: models.KindCall, self: 2, peer: 1, want: false},
		{name: "room newcomer offers", kind: models.KindRoom, self: 3, peer: 1, want: true},
		{name: "room existing answers", kind: models.KindRoom, self: 1, peer: 3, want: false},
		{name: "same participant", kind: models.KindRoom, self: 2, peer: 2, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsOfferer(tt.kind, tt.self, tt.peer))
		})
	}
}

func TestIsOffererExactlyOnePerPair(t *testing.T) {
	for _, kind := range []models.Kind{models.KindCall, models.KindRoom} {
		for a := uint64(1); a <= 5; a++ {
			for b := uint64(1); b <= 5; b++ {
				if a == b {
					continue
				}
				assert.NotEqual(t, IsOfferer(kind, a, b), IsOfferer(kind, b, a), "kind %s pair %d/%d", kind, a, b)
			}
		}
	}
}
