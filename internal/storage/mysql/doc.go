// Package mysql provides the persistence layer for research data: experiment
// records and reminders, each with a MySQL implementation and a file backed
// in-memory variant for offline development. Schema migrations are embedded
// and applied on connect.
package mysql
