package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("ABT_TEST_STR", "value")
	assert.Equal(t, "value", getEnv("ABT_TEST_STR", "fallback"))
	assert.Equal(t, "fallback", getEnv("ABT_TEST_MISSING", "fallback"))

	t.Setenv("ABT_TEST_INT", "42")
	assert.Equal(t, 42, getEnvAsInt("ABT_TEST_INT", 7))
	t.Setenv("ABT_TEST_INT", "not a number")
	assert.Equal(t, 7, getEnvAsInt("ABT_TEST_INT", 7))

	t.Setenv("ABT_TEST_DUR", "250ms")
	assert.Equal(t, 250*time.Millisecond, getEnvAsDuration("ABT_TEST_DUR", time.Second))
	t.Setenv("ABT_TEST_DUR", "soon")
	assert.Equal(t, time.Second, getEnvAsDuration("ABT_TEST_DUR", time.Second))
}

func TestGetEnvAsList(t *testing.T) {
	t.Setenv("ABT_TEST_LIST", "http://a.example, http://b.example ,")
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, getEnvAsList("ABT_TEST_LIST", nil))

	assert.Equal(t, []string{"fallback"}, getEnvAsList("ABT_TEST_LIST_MISSING", []string{"fallback"}))
}
