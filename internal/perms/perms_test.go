// Copyright 2015 Google Inc. All Rights Reserved.
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

package perms_test

import (
	"testing"

	"github.com/blocksense-network/agentfs/internal/perms"
	"github.com/stretchr/testify/assert"
)

func TestMyUserAndGroupNoError(t *testing.T) {
	uid, gid, err := perms.MyUserAndGroup()
	assert.NoError(t, err)

	unexpectedID := uint32(^uint32(0))
	assert.NotEqual(t, unexpectedID, uid)
	assert.NotEqual(t, unexpectedID, gid)
}
