// Package models holds the domain records shared by the storage tiers.
package models
