package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrNone(t *testing.T) {
	t.Run("Should return NoneLogger for nil", func(t *testing.T) {
		l := OrNone(nil)
		_, ok := l.(*NoneLogger)
		assert.True(t, ok)
	})

	t.Run("Should return the given logger", func(t *testing.T) {
		given := &NoneLogger{}
		assert.Same(t, given, OrNone(given))
	})
}

func TestNoneLogger(t *testing.T) {
	l := &NoneLogger{}

	assert.NotPanics(t, func() {
		l.Info("msg")
		l.Infof("msg %d", 1)
		l.Warn("msg")
		l.Warnf("msg %d", 1)
		l.Error("msg")
		l.Errorf("msg %d", 1)
		l.Debug("msg")
		l.Debugf("msg %d", 1)
	})
	assert.Same(t, l, l.WithFields("k", "v"))
	assert.NoError(t, l.Sync())
}
