package employee

import "time"

// Field names an updatable attribute of a Record. The employee id is never updatable.
type Field string

const (
	FieldName        Field = "name"
	FieldEmail       Field = "email"
	FieldDepartment  Field = "department"
	FieldStatus      Field = "status"
	FieldWorkspaceID Field = "workspaceId"
	FieldInstanceID  Field = "instanceId"
	FieldArtifactRef Field = "artifactRef"
	FieldError       Field = "error"
	FieldUpdatedAt   Field = "updatedAt"
)

// Update is a partial update. Only non-nil slots are written.
type Update struct {
	Name        *string
	Email       *string
	Department  *string
	Status      *Status
	WorkspaceID *string
	InstanceID  *string
	ArtifactRef *string
	Error       *string
	UpdatedAt   *time.Time
}

// Assignment is one field/value pair of an Update.
type Assignment struct {
	Field Field
	Value any
}

// Assignments returns the set slots in a fixed order.
func (u Update) Assignments() []Assignment {
	var out []Assignment
	add := func(f Field, v any) { out = append(out, Assignment{Field: f, Value: v}) }

	if u.Name != nil {
		add(FieldName, *u.Name)
	}
	if u.Email != nil {
		add(FieldEmail, *u.Email)
	}
	if u.Department != nil {
		add(FieldDepartment, *u.Department)
	}
	if u.Status != nil {
		add(FieldStatus, *u.Status)
	}
	if u.WorkspaceID != nil {
		add(FieldWorkspaceID, *u.WorkspaceID)
	}
	if u.InstanceID != nil {
		add(FieldInstanceID, *u.InstanceID)
	}
	if u.ArtifactRef != nil {
		add(FieldArtifactRef, *u.ArtifactRef)
	}
	if u.Error != nil {
		add(FieldError, *u.Error)
	}
	if u.UpdatedAt != nil {
		add(FieldUpdatedAt, *u.UpdatedAt)
	}
	return out
}

// Empty reports whether no slot is set.
func (u Update) Empty() bool {
	return len(u.Assignments()) == 0
}

func (u Update) WithStatus(s Status) Update {
	u.Status = &s
	return u
}

func (u Update) WithName(v string) Update {
	u.Name = &v
	return u
}

func (u Update) WithEmail(v string) Update {
	u.Email = &v
	return u
}

func (u Update) WithDepartment(v string) Update {
	u.Department = &v
	return u
}

func (u Update) WithWorkspaceID(v string) Update {
	u.WorkspaceID = &v
	return u
}

func (u Update) WithInstanceID(v string) Update {
	u.InstanceID = &v
	return u
}

func (u Update) WithArtifactRef(v string) Update {
	u.ArtifactRef = &v
	return u
}

func (u Update) WithError(v string) Update {
	u.Error = &v
	return u
}

func (u Update) WithUpdatedAt(t time.Time) Update {
	u.UpdatedAt = &t
	return u
}
