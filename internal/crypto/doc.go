// Package crypto encrypts OAuth tokens at rest with AES-256-GCM.
package crypto
