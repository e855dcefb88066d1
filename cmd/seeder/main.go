package main

import (
	"context"
	"log"
	"time"

	"golang.org/x/crypto/bcrypt"

	"crms/internal/shared"
	"crms/internal/store"
)

// Seed identities reused across departments and marks
const (
	CommonPassword = "password"

	DeptCSE = "dept_cse"
	DeptECE = "dept_ece"

	RegR23 = "reg_r23"

	AdminID    = "user_admin1"
	HODID      = "user_hod1"
	FacultyID  = "user_fac1"
	OperatorID = "user_op1"
)

func main() {
	log.Println("Starting Database Seeder...")

	if err := shared.LoadEnv(".env"); err != nil {
		log.Println("Warning: .env file not found, using system environment variables")
	}

	cfg, err := shared.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	client, db, err := shared.ConnectMongoDB(&cfg.MongoDB)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer shared.DisconnectMongoDB(client)

	// Clean start
	if err := db.Drop(context.Background()); err != nil {
		log.Fatalf("Failed to drop database: %v", err)
	}
	log.Println("Database cleared successfully.")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st := store.New(client, db)
	if err := st.EnsureIndexes(ctx); err != nil {
		log.Fatalf("Failed to create indexes: %v", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(CommonPassword), cfg.Security.BCryptCost)
	if err != nil {
		log.Fatalf("Failed to hash seed password: %v", err)
	}
	pw := string(hash)
	now := time.Now()

	// --- 1. Departments ---
	departments := []*shared.Department{
		{ID: DeptCSE, Code: "CSE", Name: "Computer Science and Engineering", HODUserID: HODID, IsActive: true, CreatedAt: now},
		{ID: DeptECE, Code: "ECE", Name: "Electronics and Communication Engineering", IsActive: true, CreatedAt: now},
	}
	for _, d := range departments {
		if err := st.InsertDepartment(ctx, d); err != nil {
			log.Fatalf("Failed to seed department %s: %v", d.Code, err)
		}
	}

	// --- 2. Regulation with its grade scale ---
	regulation := &shared.Regulation{
		ID:            RegR23,
		Code:          "R23",
		Name:          "Regulation 2023",
		EffectiveFrom: 2023,
		GradeScale: []shared.GradeBand{
			{Grade: "S", MinMarks: 90, Points: 10},
			{Grade: "A", MinMarks: 80, Points: 9},
			{Grade: "B", MinMarks: 70, Points: 8},
			{Grade: "C", MinMarks: 60, Points: 7},
			{Grade: "D", MinMarks: 50, Points: 6},
			{Grade: "E", MinMarks: 40, Points: 5},
			{Grade: "F", MinMarks: 0, Points: 0},
		},
		MinPassGrade: "E",
		MinPassMarks: 40,
		IsActive:     true,
		CreatedAt:    now,
	}
	if err := st.InsertRegulation(ctx, regulation); err != nil {
		log.Fatalf("Failed to seed regulation: %v", err)
	}

	// --- 3. Subjects (semester 3 CSE) ---
	subjects := []*shared.Subject{
		{ID: "sub_cs301", Code: "CS301", Name: "Operating Systems", Credits: 4, Type: shared.SubjectTheory, Semester: 3, RegulationID: RegR23, IsActive: true, CreatedAt: now},
		{ID: "sub_cs302", Code: "CS302", Name: "Database Management Systems", Credits: 4, Type: shared.SubjectTheory, Semester: 3, RegulationID: RegR23, IsActive: true, CreatedAt: now},
		{ID: "sub_cs303", Code: "CS303", Name: "Computer Networks", Credits: 3, Type: shared.SubjectTheory, Semester: 3, RegulationID: RegR23, IsActive: true, CreatedAt: now},
		{ID: "sub_cs304", Code: "CS304", Name: "Operating Systems Lab", Credits: 1.5, Type: shared.SubjectLab, Semester: 3, RegulationID: RegR23, IsActive: true, CreatedAt: now},
	}
	for _, sub := range subjects {
		if err := st.InsertSubject(ctx, sub); err != nil {
			log.Fatalf("Failed to seed subject %s: %v", sub.Code, err)
		}
	}

	// --- 4. Staff accounts ---
	users := []*shared.User{
		{ID: AdminID, Username: "admin", PasswordHash: pw, Name: "System Administrator", Role: shared.RoleAdmin, IsActive: true, CreatedAt: now},
		{ID: HODID, Username: "hod.cse", PasswordHash: pw, Name: "Dr. Lakshmi Narayanan", Role: shared.RoleHOD, DepartmentID: DeptCSE, IsActive: true, CreatedAt: now},
		{ID: FacultyID, Username: "faculty.rao", PasswordHash: pw, Name: "Dr. Srinivasa Rao", Role: shared.RoleFaculty, DepartmentID: DeptCSE,
			AssignedSubjects: []string{"sub_cs301", "sub_cs302", "sub_cs303", "sub_cs304"}, IsActive: true, CreatedAt: now},
		{ID: OperatorID, Username: "coe.operator", PasswordHash: pw, Name: "Examinations Operator", Role: shared.RoleOperator, IsActive: true, CreatedAt: now},
	}
	for _, u := range users {
		if err := st.InsertUser(ctx, u); err != nil {
			log.Fatalf("Failed to seed user %s: %v", u.Username, err)
		}
	}

	// --- 5. Students ---
	students := []*shared.Student{
		{ID: "stu_1", Regno: "23K61A0501", Name: "Anil Kumar", Gender: "M", DepartmentID: DeptCSE, RegulationID: RegR23, BatchYear: 2023, CurrentSemester: 3},
		{ID: "stu_2", Regno: "23K61A0502", Name: "Bhavna Devi", Gender: "F", DepartmentID: DeptCSE, RegulationID: RegR23, BatchYear: 2023, CurrentSemester: 3},
		{ID: "stu_3", Regno: "23K61A0503", Name: "Chitra Reddy", Gender: "F", DepartmentID: DeptCSE, RegulationID: RegR23, BatchYear: 2023, CurrentSemester: 3},
	}
	for _, stu := range students {
		stu.PasswordHash = pw
		stu.IsActive = true
		stu.FirstLogin = true
		stu.CreatedAt = now
		if err := st.InsertStudent(ctx, stu); err != nil {
			log.Fatalf("Failed to seed student %s: %v", stu.Regno, err)
		}
	}

	// --- 6. Draft marks for the demo cohort ---
	scores := map[string]map[string][2]float64{
		"stu_1": {"sub_cs301": {35, 50}, "sub_cs302": {38, 55}, "sub_cs303": {30, 48}, "sub_cs304": {36, 52}},
		"stu_2": {"sub_cs301": {20, 15}, "sub_cs302": {28, 40}, "sub_cs303": {25, 38}, "sub_cs304": {30, 45}},
		"stu_3": {"sub_cs301": {32, 46}, "sub_cs302": {30, 42}, "sub_cs303": {28, 35}, "sub_cs304": {34, 50}},
	}
	scale := regulation.GradeScale
	count := 0
	for studentID, bySubject := range scores {
		for subjectID, pair := range bySubject {
			internal, external := pair[0], pair[1]
			total := internal + external
			grade, points := gradeOn(scale, total)
			mark := &shared.Mark{
				ID:           shared.GenerateID("mark"),
				StudentID:    studentID,
				SubjectID:    subjectID,
				Semester:     3,
				AcademicYear: "2024-25",
				Internal:     &internal,
				External:     &external,
				Total:        &total,
				Grade:        grade,
				GradePoints:  points,
				Status:       shared.MarkDraft,
				EnteredBy:    FacultyID,
				CreatedAt:    now,
			}
			if err := st.InsertMark(ctx, mark); err != nil {
				log.Fatalf("Failed to seed mark for %s/%s: %v", studentID, subjectID, err)
			}
			count++
		}
	}

	log.Printf("Seeding complete: %d departments, %d subjects, %d users, %d students, %d marks.",
		len(departments), len(subjects), len(users), len(students), count)
}

func gradeOn(scale []shared.GradeBand, total float64) (string, float64) {
	for _, band := range scale {
		if total >= band.MinMarks {
			return band.Grade, band.Points
		}
	}
	return "F", 0
}
