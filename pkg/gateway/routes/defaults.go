package routes

import (
	"net/http"

	"github.com/theroutercompany/quiz_gateway/pkg/gateway/identity"
)

// Backend service identifiers. Each is also the first path segment the
// service expects on forwarded calls.
const (
	ServiceUser    = "user_service"
	ServiceTest    = "test_service"
	ServiceSubject = "subject_service"
)

// Default namespaces.
const (
	NamespacePublic   = "frontend_api"
	NamespaceInternal = "service_api"
)

var (
	anyone         = identity.RoleSet{identity.RoleStudent, identity.RoleTeacher, identity.RoleAdmin}
	adminOnly      = identity.RoleSet{identity.RoleAdmin}
	teacherOnly    = identity.RoleSet{identity.RoleTeacher}
	studentOnly    = identity.RoleSet{identity.RoleStudent}
	teacherStudent = identity.RoleSet{identity.RoleTeacher, identity.RoleStudent}
	teacherAdmin   = identity.RoleSet{identity.RoleTeacher, identity.RoleAdmin}
)

func open(pattern, method, service string, injection InjectionMode) Entry {
	return Entry{Pattern: pattern, Methods: []string{method}, Service: service, Injection: injection}
}

func secured(pattern, method, service string, roles identity.RoleSet, injection InjectionMode) Entry {
	return Entry{Pattern: pattern, Methods: []string{method}, Service: service, Secure: true, Roles: roles, Injection: injection}
}

// Default returns the quiz platform's route table. Base URLs are left empty
// and resolved from configuration by NewTable.
func Default() []Entry {
	const (
		get = http.MethodGet
		pst = http.MethodPost
		put = http.MethodPut
		del = http.MethodDelete
	)

	return []Entry{
		// user management
		open("/frontend_api/register_user", pst, ServiceUser, InjectNone),
		secured("/frontend_api/get_user_info/{username}", get, ServiceUser, anyone, InjectNone),
		secured("/frontend_api/get_all_users_info", get, ServiceUser, adminOnly, InjectFromToken),
		secured("/frontend_api/delete_user/{username}", del, ServiceUser, adminOnly, InjectFromToken),
		open("/service_api/get_user_info/{username}", get, ServiceUser, InjectNone),

		// test management
		secured("/frontend_api/get_my_tests_info", get, ServiceTest, teacherOnly, InjectFromToken),
		secured("/frontend_api/get_all_tests_info", get, ServiceTest, adminOnly, InjectFromToken),
		secured("/frontend_api/get_test_info/{test_id}", get, ServiceTest, teacherOnly, InjectFromToken),
		secured("/frontend_api/get_test", get, ServiceTest, teacherStudent, InjectFromToken),
		open("/service_api/get_test/{test_id}", get, ServiceTest, InjectFromHeader),
		secured("/frontend_api/get_test/{test_id}", get, ServiceTest, teacherOnly, InjectFromToken),
		secured("/frontend_api/save_test/{test_id}", put, ServiceTest, teacherOnly, InjectFromToken),
		secured("/frontend_api/delete_test/{test_id}", del, ServiceTest, teacherAdmin, InjectFromToken),

		// subject management
		secured("/frontend_api/get_my_subjects_info", get, ServiceSubject, teacherStudent, InjectFromToken),
		secured("/frontend_api/get_all_subjects_info", get, ServiceSubject, anyone, InjectNone),
		secured("/frontend_api/get_subject_info/{subject_id}", get, ServiceSubject, teacherStudent, InjectNone),
		secured("/frontend_api/get_subjects_info_published/{test_id}", get, ServiceSubject, teacherOnly, InjectFromToken),
		secured("/frontend_api/subject_subscribe_teacher/{subject_id}", pst, ServiceSubject, teacherOnly, InjectFromToken),
		secured("/frontend_api/save_test_attempt/{subject_id}", pst, ServiceSubject, studentOnly, InjectFromToken),
		secured("/frontend_api/subject_subscribe_student/{subject_id}", pst, ServiceSubject, studentOnly, InjectFromToken),
		secured("/frontend_api/get_subject", get, ServiceSubject, teacherOnly, InjectFromToken),
		secured("/frontend_api/get_subject/{subject_id}", get, ServiceSubject, anyone, InjectFromToken),
		secured("/frontend_api/save_subject/{subject_id}", put, ServiceSubject, teacherOnly, InjectFromToken),
		secured("/frontend_api/delete_subject/{subject_id}", del, ServiceSubject, teacherAdmin, InjectFromToken),
		secured("/frontend_api/delete_test_instance/{subject_id}", del, ServiceSubject, teacherAdmin, InjectFromToken),
		secured("/frontend_api/publish_test/{subject_id}/{test_id}", pst, ServiceSubject, teacherOnly, InjectFromToken),
		secured("/frontend_api/remove_teacher_from_subject/{subject_id}/{username}", del, ServiceSubject, teacherOnly, InjectFromToken),
		secured("/frontend_api/remove_student_from_subject/{subject_id}/{username}", del, ServiceSubject, teacherOnly, InjectFromToken),
		secured("/frontend_api/get_task_results/{subject_id}", get, ServiceSubject, teacherOnly, InjectFromToken),
		secured("/frontend_api/get_test_summary/{subject_id}", get, ServiceSubject, teacherOnly, InjectFromToken),
		secured("/frontend_api/get_student_results/{subject_id}", get, ServiceSubject, teacherOnly, InjectFromToken),
	}
}
