// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cfg

// RequiresBackstoreRoot reports whether the config's selected backstore kind
// needs a host-filesystem root path to operate.
func RequiresBackstoreRoot(config *Config) bool {
	return config.Backstore.Kind == BackstoreHostFs || config.Backstore.Kind == BackstoreNativeCoW
}

// IsMemoryBudgetBounded reports whether the content store should spill cold
// blobs to disk instead of keeping everything resident.
func IsMemoryBudgetBounded(config *Config) bool {
	return config.Core.MemoryBudgetBytes > 0
}
