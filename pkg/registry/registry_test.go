package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceKey(t *testing.T) {
	assert.Equal(t, "/services/acquisition-service/node-1", ServiceKey("acquisition-service", "node-1"))
}

func TestPick_RoundRobin(t *testing.T) {
	addrs := []string{"a:1", "b:2"}
	got0, err := pick(addrs, 0, "svc")
	require.NoError(t, err)
	got1, _ := pick(addrs, 1, "svc")
	got2, _ := pick(addrs, 2, "svc")
	assert.Equal(t, "a:1", got0)
	assert.Equal(t, "b:2", got1)
	assert.Equal(t, "a:1", got2)

	_, err = pick(nil, 0, "svc")
	assert.Error(t, err)
}
