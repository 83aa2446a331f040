// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package functiontool

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// mapToStruct converts a map[string]any (decoded tool-call arguments) to a
// typed struct, using struct tag "json" names the same way jsonschema tags
// named them when generating the schema.
func mapToStruct(m map[string]any, target any) error {
	if m == nil {
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return fmt.Errorf("functiontool: build decoder: %w", err)
	}

	if err := decoder.Decode(m); err != nil {
		return fmt.Errorf("functiontool: decode args: %w", err)
	}

	return nil
}
