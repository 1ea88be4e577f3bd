package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSVRecords(t *testing.T) {
	csv := strings.Join([]string{
		"email,first_name,last_name,organization_name",
		"a@x.com,Ada,Lovelace,Acme Inc",
		"b@x.com,Grace,Hopper,Globex",
	}, "\n")

	records, err := readCSVRecords(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "a@x.com", records[0]["email"])
	assert.Equal(t, "Ada", records[0]["first_name"])
	assert.Equal(t, "Acme Inc", records[0]["organization_name"])
	assert.Equal(t, "Globex", records[1]["organization_name"])
}

func TestReadCSVRecordsShortRow(t *testing.T) {
	// encoding/csv rejects rows with a different field count.
	csv := "email,first_name\na@x.com,Ada\nb@x.com\n"

	_, err := readCSVRecords(strings.NewReader(csv))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read row")
}

func TestReadCSVRecordsEmptyFile(t *testing.T) {
	_, err := readCSVRecords(strings.NewReader(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty file")
}

func TestReadCSVRecordsHeaderOnly(t *testing.T) {
	records, err := readCSVRecords(strings.NewReader("email,first_name\n"))
	require.NoError(t, err)
	assert.Empty(t, records)
}
