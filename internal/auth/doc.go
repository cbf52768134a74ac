// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth implements credential verification, session lifecycle and
// password recovery.
//
// # Domain Types
//
// Domain types should be created using their constructors:
//   - NewUser - validates email and password hash, normalizes the email
//   - NewSession - validates owner and token hash
//   - NewResetToken - validates owner and token hash, fixes the expiry
//   - NewNotification - validates kind and recipient
//
// Repository implementations receive pre-validated types from these constructors.
//
// # Services
//
//   - SessionManager - issues, validates and revokes session tokens
//   - ResetTokenManager - issues and atomically consumes reset tokens
//   - Service - signup, signin, logout, forgot-password and reset-password flows
//
// Tokens handed to clients are never stored. Stores only see the SHA-256
// hash of a token, so a leaked table cannot be replayed as cookies or links.
package auth
