package moneyfmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComma(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{5, "5"},
		{999, "999"},
		{1000, "1,000"},
		{123456, "123,456"},
		{1234567, "1,234,567"},
		{-9999, "-9,999"},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, Comma(c.in), "Comma(%d)", c.in)
	}
}

func TestDisplay(t *testing.T) {
	assert.Equal(t, "123,456 元", Display(123456))
}
