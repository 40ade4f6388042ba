package logger

import (
	"io"
	"log"
	"os"
)

// The loggers write to stderr until Init points them at a file, so callers
// can log before (or without) initialization.
var (
	InfoLogger  = log.New(os.Stderr, "INFO: ", log.Ldate|log.Ltime|log.Lshortfile)
	ErrorLogger = log.New(os.Stderr, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)
	logFile     *os.File
)

// Init opens the log file and points the loggers at it alongside stderr.
// The file is appended to across restarts.
func Init(logFilePath string) error {
	var err error
	logFile, err = os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return err
	}

	out := io.MultiWriter(os.Stderr, logFile)
	InfoLogger.SetOutput(out)
	ErrorLogger.SetOutput(out)

	// Route the default logger through the same outputs so package-level
	// log.Printf calls land in the file too.
	log.SetOutput(out)
	return nil
}

// RotateLog reopens the log file after an external rotation moved it aside.
func RotateLog(logFilePath string) error {
	if logFile != nil {
		logFile.Close()
	}

	var err error
	logFile, err = os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return err
	}

	out := io.MultiWriter(os.Stderr, logFile)
	InfoLogger.SetOutput(out)
	ErrorLogger.SetOutput(out)
	log.SetOutput(out)

	return nil
}

// Cleanup closes the log file when the application is done using it
func Cleanup() {
	if logFile != nil {
		logFile.Close()
	}
}

// Info logs an informational message to the log file
func Info(v ...interface{}) {
	InfoLogger.Println(v...)
}

// Error logs an error message to the log file
func Error(v ...interface{}) {
	ErrorLogger.Println(v...)
}

// Infof logs a formatted informational message
func Infof(format string, v ...interface{}) {
	InfoLogger.Printf(format, v...)
}

// Errorf logs a formatted error message
func Errorf(format string, v ...interface{}) {
	ErrorLogger.Printf(format, v...)
}
