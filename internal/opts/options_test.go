/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package opts

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOptions_ParseOrDefault(t *testing.T) {
	require.Equal(t, 12, parseOrDefault("LOOPOPT_TEST_UNSET", 12, 1))
	os.Setenv("LOOPOPT_TEST_VALUE", "0x20")
	defer os.Unsetenv("LOOPOPT_TEST_VALUE")
	require.Equal(t, 32, parseOrDefault("LOOPOPT_TEST_VALUE", 12, 1))
	require.PanicsWithValue(t, "loopopt: value too small for LOOPOPT_TEST_VALUE", func() {
		parseOrDefault("LOOPOPT_TEST_VALUE", 12, 32)
	})
	os.Setenv("LOOPOPT_TEST_VALUE", "many")
	require.PanicsWithValue(t, "loopopt: invalid value for LOOPOPT_TEST_VALUE", func() {
		parseOrDefault("LOOPOPT_TEST_VALUE", 12, 1)
	})
}

func TestOptions_Defaults(t *testing.T) {
	o := GetDefaultOptions()
	require.True(t, o.UnrollLimit == 4 || o.UnrollLimit == 8)
	require.True(t, o.Enabled(PassUnroll))
	require.False(t, o.Enabled(PassStripMine))
	require.False(t, o.FloatReassociation)
	o.StripMining = true
	require.True(t, o.Enabled(PassStripMine))
	require.Equal(t, "peel|unroll", (PassPeel | PassUnroll).String())
}
