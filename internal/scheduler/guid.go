package scheduler

import (
	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

var activityNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("studyline:scheduled-activity"))

// ActivityGUID derives the guid of an occurrence. The same plan, template and
// floating local date-time always produce the same guid.
func ActivityGUID(planGUID, templateGUID string, scheduledOn civil.DateTime) string {
	return uuid.NewSHA1(activityNamespace, []byte(planGUID+"|"+templateGUID+"|"+scheduledOn.String())).String()
}
