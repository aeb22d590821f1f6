/*
 * Copyright 2025 Carver Automation Corporation.
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

package audit

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig = errors.New("invalid audit configuration")
	ErrShutdown      = errors.New("audit engine shut down")

	// ErrAdmissionConflict is wrapped by every rejection caused by daemon-wide
	// discovery or pairing activity.
	ErrAdmissionConflict   = errors.New("admission conflict")
	ErrDiscoveryInProgress = fmt.Errorf("%w: discovery in progress", ErrAdmissionConflict)
	ErrBondingInProgress   = fmt.Errorf("%w: bonding in progress", ErrAdmissionConflict)

	ErrDuplicateTarget         = errors.New("audit already in progress for target")
	ErrGateBusy                = errors.New("another audit holds the connection")
	ErrConnectionAttemptFailed = errors.New("connection attempt failed")
	ErrConnectionLost          = errors.New("connection error or hangup")
	ErrTimeout                 = errors.New("no response before deadline")

	ErrNotInProgress = errors.New("audit not in progress")
	ErrNotAuthorized = errors.New("not authorized")
)
