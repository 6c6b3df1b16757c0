package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMoney(t *testing.T) {
	cases := []struct {
		in      string
		want    Money
		wantErr bool
	}{
		{"100", 10000, false},
		{"100.5", 10050, false},
		{"100.05", 10005, false},
		{"0.99", 99, false},
		{"-1.25", -125, false},
		{"1.234", 0, true},
		{"1.", 0, true},
		{".5", 0, true},
		{"abc", 0, true},
		{"", 0, true},
		{"-", 0, true},
		{"+7", 0, true},
		{"1.+5", 0, true},
		{"1.-5", 0, true},
		{"--1", 0, true},
		{"1 .5", 0, true},
		{"92233720368547758.07", 9223372036854775807, false},
		{"92233720368547758.08", 0, true},
		{"92233720368547759", 0, true},
		{"99999999999999999999", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseMoney(tc.in)
		if tc.wantErr {
			assert.ErrorIs(t, err, ErrInvalidMoney, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestMoneyJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		Price Money `json:"price"`
	}{Price: 20000})
	require.NoError(t, err)
	assert.JSONEq(t, `{"price":"200.00"}`, string(b))

	var in struct {
		A Money `json:"a"`
		B Money `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"12.30","b":7}`), &in))
	assert.Equal(t, Money(1230), in.A)
	assert.Equal(t, Money(700), in.B)

	assert.Equal(t, "-0.05", Money(-5).String())
	assert.Equal(t, Money(30000), Money(10000).Mul(3))
}

func TestFlightTime(t *testing.T) {
	dep := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	f := Flight{DepartureTime: dep, ArrivalTime: dep.Add(2*time.Hour + 20*time.Minute)}
	assert.Equal(t, 2.33, f.FlightTime())
	assert.Equal(t, 0.0, Flight{}.FlightTime())
}
