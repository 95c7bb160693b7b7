package models

// AllModels returns every model registered for auto-migration.
func AllModels() []interface{} {
	return []interface{}{
		&TimingPartner{},
		&ProviderCredential{},
		&RaceEvent{},
		&Participant{},
		&RaceResult{},
		&SyncOutcome{},
		&BackfillCheckpoint{},
	}
}
