// Package config loads the daemon configuration from a JSON file and fills
// in defaults for the server, storage, queue, model backend and agent
// sections. Relative paths are resolved against the config file directory.
package config
