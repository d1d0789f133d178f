// Package application is the startup configurator. It resolves the
// environment mode, assembles the settings store (optionally augmented from
// Azure Key Vault outside development), loads the pages, builds the
// middleware pipeline and owns the HTTP, HTTPS and metrics servers.
package application
