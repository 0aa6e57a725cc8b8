// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bpacket

import (
	"fmt"
	"unicode/utf8"
)

// AnomalyType represents different types of packet anomalies
type AnomalyType int

const (
	AnomalySelfAddressed AnomalyType = iota
	AnomalyInvalidText
	AnomalyUnusualCode
	AnomalyHostCommand
)

// ValidationError represents a packet that decoded correctly but breaks a
// protocol convention
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidatePacket checks a decoded packet against the conventions the nodes
// follow. Returns a slice of validation errors (empty if packet is valid).
func ValidatePacket(p *Packet) []ValidationError {
	errors := []ValidationError{}

	if p.receiver == p.sender {
		errors = append(errors, ValidationError{
			Type:    AnomalySelfAddressed,
			Message: fmt.Sprintf("%s packet addressed to its own sender %s", p.request, p.sender),
			Details: map[string]interface{}{"address": p.sender},
		})
	}

	if p.request == RequestMessage && !utf8.Valid(p.Data()) {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidText,
			Message: fmt.Sprintf("MESSAGE data is not valid UTF-8 (%d bytes)", p.length),
			Details: map[string]interface{}{"length": int(p.length)},
		})
	}

	switch p.code {
	case CodeTodo, CodeUnknown:
		errors = append(errors, ValidationError{
			Type:    AnomalyUnusualCode,
			Message: fmt.Sprintf("%s packet carries code %s", p.request, p.code),
			Details: map[string]interface{}{"code": p.code},
		})
	case CodeExecute:
		// Maple issues commands, it only ever answers pings and displays messages
		if p.receiver == AddressMaple && p.request != RequestMessage && p.request != RequestPing {
			errors = append(errors, ValidationError{
				Type:    AnomalyHostCommand,
				Message: fmt.Sprintf("EXECUTE %s sent to MAPLE by %s", p.request, p.sender),
				Details: map[string]interface{}{"request": p.request, "sender": p.sender},
			})
		}
	}

	return errors
}
