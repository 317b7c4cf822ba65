package migrate

// Stage is a step of the document-mode migration.
type Stage int

const (
	StageUninitialized Stage = iota
	StageInitialized
	StageCopyStarted
	StageCopyDone
	StageWriteMetadataStarted
	StageWriteMetadataDone
	StageChangeSettingsStarted
	StageChangeSettingsDone
	StageDeletionStarted
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageUninitialized:
		return "uninitialized"
	case StageInitialized:
		return "initialized"
	case StageCopyStarted:
		return "copy_started"
	case StageCopyDone:
		return "copy_done"
	case StageWriteMetadataStarted:
		return "write_metadata_started"
	case StageWriteMetadataDone:
		return "write_metadata_done"
	case StageChangeSettingsStarted:
		return "change_settings_started"
	case StageChangeSettingsDone:
		return "change_settings_done"
	case StageDeletionStarted:
		return "deletion_started"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// The stage tokens below are the only way to move an Assassin forward. Each
// token exposes just the transitions legal from its stage; a token that is
// used after the Assassin moved on fails with schema.ErrStageMismatch.

type token struct {
	a     *Assassin
	stage Stage
}

// Stage returns the stage the token was issued for.
func (t token) Stage() Stage { return t.stage }

// Initialized is held once the migration has been set up.
type Initialized struct{ token }

// CopyStarted is held while tab files are copied.
type CopyStarted struct{ token }

// CopyDone is held once tab files are in the tabbed state directory.
type CopyDone struct{ token }

// WriteMetadataStarted is held while the tab list is written.
type WriteMetadataStarted struct{ token }

// WriteMetadataDone is held once the tab list is written or skipped.
type WriteMetadataDone struct{ token }

// ChangeSettingsStarted is held while the mode preference is flipped.
type ChangeSettingsStarted struct{ token }

// ChangeSettingsDone is held once tabbed mode is the configured mode.
type ChangeSettingsDone struct{ token }

// DeletionStarted is held while legacy data is removed.
type DeletionStarted struct{ token }

// Done is the terminal token.
type Done struct{ token }

func (t token) next(to Stage) (token, error) {
	if err := t.a.advance(t.stage, to); err != nil {
		return token{}, err
	}
	return token{a: t.a, stage: to}, nil
}

func (s Initialized) StartCopy() (CopyStarted, error) {
	t, err := s.next(StageCopyStarted)
	return CopyStarted{t}, err
}

// SkipToMetadataDone abandons data migration after too many failed attempts.
func (s Initialized) SkipToMetadataDone() (WriteMetadataDone, error) {
	t, err := s.next(StageWriteMetadataDone)
	return WriteMetadataDone{t}, err
}

func (s CopyStarted) FinishCopy() (CopyDone, error) {
	t, err := s.next(StageCopyDone)
	return CopyDone{t}, err
}

func (s CopyDone) StartWriteMetadata() (WriteMetadataStarted, error) {
	t, err := s.next(StageWriteMetadataStarted)
	return WriteMetadataStarted{t}, err
}

func (s WriteMetadataStarted) FinishWriteMetadata() (WriteMetadataDone, error) {
	t, err := s.next(StageWriteMetadataDone)
	return WriteMetadataDone{t}, err
}

func (s WriteMetadataDone) StartChangeSettings() (ChangeSettingsStarted, error) {
	t, err := s.next(StageChangeSettingsStarted)
	return ChangeSettingsStarted{t}, err
}

func (s ChangeSettingsStarted) FinishChangeSettings() (ChangeSettingsDone, error) {
	t, err := s.next(StageChangeSettingsDone)
	return ChangeSettingsDone{t}, err
}

func (s ChangeSettingsDone) StartDeletion() (DeletionStarted, error) {
	t, err := s.next(StageDeletionStarted)
	return DeletionStarted{t}, err
}

func (s DeletionStarted) Finish() (Done, error) {
	t, err := s.next(StageDone)
	return Done{t}, err
}
