/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package version

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuildTimestampFormats(t *testing.T) {
	// Modifies package variables; must not run in parallel.
	oldVersion, oldTimestamp := ProductVersion, BuildTimestamp
	defer func() { ProductVersion, BuildTimestamp = oldVersion, oldTimestamp }()

	ProductVersion = ""
	BuildTimestamp = "1700000000"
	out := Version()
	require.Equal(t, DevelopmentVersion, out.Version)
	require.Equal(t, int64(1700000000), out.BuildTime.Unix())

	BuildTimestamp = "2024-03-01T12:00:00Z"
	out = Version()
	require.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), out.BuildTime.UTC())

	data, marshalErr := json.Marshal(out)
	require.NoError(t, marshalErr)
	require.Contains(t, string(data), `"buildTimestamp":"2024-03-01T12:00:00Z"`)

	BuildTimestamp = ""
	data, marshalErr = json.Marshal(Version())
	require.NoError(t, marshalErr)
	require.Contains(t, string(data), `"buildTimestamp":null`)
}
