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

package dbusapi

import (
	"errors"

	"github.com/godbus/dbus/v5"

	"github.com/carverauto/l2audit/pkg/audit"
	"github.com/carverauto/l2audit/pkg/eventloop"
	"github.com/carverauto/l2audit/pkg/l2cap"
)

const errorPrefix = "org.bluez.Error."

// D-Bus error names returned by the Test interface.
const (
	ErrNameUnknownMethod           = errorPrefix + "UnknownMethod"
	ErrNameInvalidArguments        = errorPrefix + "InvalidArguments"
	ErrNameDiscoverInProgress      = errorPrefix + "DiscoverInProgress"
	ErrNameBondingInProgress       = errorPrefix + "BondingInProgress"
	ErrNameInProgress              = errorPrefix + "InProgress"
	ErrNameConnectionAttemptFailed = errorPrefix + "ConnectionAttemptFailed"
	ErrNameNotInProgress           = errorPrefix + "NotInProgress"
	ErrNameNotAuthorized           = errorPrefix + "NotAuthorized"
	ErrNameFailed                  = errorPrefix + "Failed"
)

var (
	errNameWatcherStarted = errors.New("name watcher already started")
	errNameWatcherStopped = errors.New("name watcher stopped")
)

func newError(name, msg string) *dbus.Error {
	return &dbus.Error{Name: name, Body: []interface{}{msg}}
}

func unknownMethod(method string) *dbus.Error {
	return newError(ErrNameUnknownMethod, "Method \""+method+"\" with signature \"s\" on interface \""+TestInterface+"\" doesn't exist")
}

// toDBusError maps engine errors onto BlueZ error names.
func toDBusError(err error) *dbus.Error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, l2cap.ErrInvalidAddress):
		return newError(ErrNameInvalidArguments, "Invalid arguments in method call")
	case errors.Is(err, audit.ErrDiscoveryInProgress):
		return newError(ErrNameDiscoverInProgress, "Discover in progress")
	case errors.Is(err, audit.ErrBondingInProgress):
		return newError(ErrNameBondingInProgress, "Bonding in progress")
	case errors.Is(err, audit.ErrDuplicateTarget), errors.Is(err, audit.ErrGateBusy):
		return newError(ErrNameInProgress, "In progress")
	case errors.Is(err, audit.ErrConnectionAttemptFailed):
		return newError(ErrNameConnectionAttemptFailed, err.Error())
	case errors.Is(err, audit.ErrNotInProgress):
		return newError(ErrNameNotInProgress, "Audit not in progress")
	case errors.Is(err, audit.ErrNotAuthorized):
		return newError(ErrNameNotAuthorized, "Not authorized")
	case errors.Is(err, eventloop.ErrLoopStopped), errors.Is(err, audit.ErrShutdown):
		return newError(ErrNameFailed, "Service is shutting down")
	default:
		return newError(ErrNameFailed, err.Error())
	}
}
