/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package errors

const VaultPrefix = "Vault."

/*
   5-digit Error Code Convention: [xx][yyy]
   [xx] Business ID (00–99), used to distinguish errors from different business interfaces.
   00: General errors
   01: Job-related errors (training / evaluation)
   02: Quarantine-related errors
   03: Update-related errors
   04: Adapter-related errors
   05: Service-related errors
   [yyy] Error code range (000–999)
*/

// public: 00xxx
const (
	InternalError         = VaultPrefix + "00001"
	BadRequest            = VaultPrefix + "00002"
	Forbidden             = VaultPrefix + "00003"
	AlreadyExist          = VaultPrefix + "00004"
	NotFound              = VaultPrefix + "00005"
	RequestEntityTooLarge = VaultPrefix + "00006"
	Unauthorized          = VaultPrefix + "00007"
	Conflict              = VaultPrefix + "00008"
	Unavailable           = VaultPrefix + "00009"
	Unprocessable         = VaultPrefix + "00010"
)

// job: 01xxx
const (
	JobNotFound    = VaultPrefix + "01001"
	JobConflict    = VaultPrefix + "01002"
	GpuUnavailable = VaultPrefix + "01003"
)

// quarantine: 02xxx
const (
	FileNotHeld       = VaultPrefix + "02001"
	ScanLimitExceeded = VaultPrefix + "02002"
)

// update: 03xxx
const (
	InvalidBundle      = VaultPrefix + "03001"
	SignatureInvalid   = VaultPrefix + "03002"
	UpdateInProgress   = VaultPrefix + "03003"
	NoBackupAvailable  = VaultPrefix + "03004"
	ConfirmationNeeded = VaultPrefix + "03005"
)

// adapter: 04xxx
const (
	AdapterActive   = VaultPrefix + "04001"
	AdapterNotFound = VaultPrefix + "04002"
)

// service: 05xxx
const (
	ServiceUnknown     = VaultPrefix + "05001"
	SelfRestartRefused = VaultPrefix + "05002"
)
