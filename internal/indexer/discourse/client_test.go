package discourse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewClientTrimsTrailingSlash(t *testing.T) {
	c := newClient("https://forum.example.org/", nil)
	assert.Equal(t, "https://forum.example.org", c.baseURL)
}
