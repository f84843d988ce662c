package utils_test

import (
	"testing"

	"github.com/jrsteele09/diet-sync/internal/utils"
	"github.com/stretchr/testify/require"
)

func TestValue(t *testing.T) {
	require.Equal(t, "", utils.Value[string](nil))
	s := "hello"
	require.Equal(t, "hello", utils.Value(&s))
}

func TestNonZero(t *testing.T) {
	require.Nil(t, utils.NonZero(""))
	require.Nil(t, utils.NonZero(0))

	p := utils.NonZero("https://img.example/1.png")
	require.NotNil(t, p)
	require.Equal(t, "https://img.example/1.png", *p)
}
